// End-to-end scenarios over nine engines wired through an in-memory
// loopback sender. The loopback can drop links, which stands in for
// partitions, crashes and lossy networks without touching real sockets.

package paxos

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-electorate/paxos/config"
	"go-electorate/paxos/messages"
)

// loopback delivers every send straight into the target engine's dispatch.
// A nil engine entry models an unreachable member; the drop hook models
// lossy links.
type loopback struct {
	mu      sync.Mutex
	engines map[string]*Engine
	drop    func(from string, to config.Member, m messages.Message) bool
}

func (l *loopback) Send(to config.Member, m messages.Message) {
	l.mu.Lock()
	drop := l.drop
	e := l.engines[to.ID]
	l.mu.Unlock()

	if drop != nil && drop(m.From, to, m) {
		return
	}
	if e == nil {
		return
	}
	e.Dispatch(m)
}

func (l *loopback) setDrop(f func(from string, to config.Member, m messages.Message) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop = f
}

func (l *loopback) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.engines, id)
}

// clusterConf shrinks the protocol timeouts so scenarios converge fast.
func clusterConf() *config.Conf {
	c := &config.Conf{SEED: 7}
	c.FillEmptyFields(9)
	c.PREPARE_TIMEOUT_MS = 150
	c.ACCEPT_TIMEOUT_MS = 150
	c.RETRY_JITTER_MIN_MS = 1
	c.RETRY_JITTER_MAX_MS = 10
	return c
}

func newCluster(t *testing.T, conf *config.Conf) (*loopback, map[string]*Engine) {
	t.Helper()
	members := testMembers()
	lb := &loopback{engines: make(map[string]*Engine)}
	for _, m := range members {
		e, err := NewEngine(m.ID, members, conf, lb, nil)
		require.NoError(t, err)
		lb.engines[m.ID] = e
	}
	return lb, lb.engines
}

func inject(e *Engine, candidate string) {
	m := messages.New(messages.Propose, "script")
	m.V = candidate
	e.Dispatch(m)
}

func decidedValue(e *Engine) (string, bool) { return e.Decided() }

func assertAllDecided(t *testing.T, engines map[string]*Engine, skip map[string]bool, timeout time.Duration) string {
	t.Helper()
	waitFor(t, timeout, "every member deciding", func() bool {
		for id, e := range engines {
			if skip[id] {
				continue
			}
			if _, ok := decidedValue(e); !ok {
				return false
			}
		}
		return true
	})

	var agreed string
	for id, e := range engines {
		if skip[id] {
			continue
		}
		v, ok := decidedValue(e)
		require.True(t, ok, "member %s", id)
		if agreed == "" {
			agreed = v
		}
		assert.Equal(t, agreed, v, "member %s disagrees", id)
	}
	return agreed
}

func TestScenarioIdealRun(t *testing.T) {
	_, engines := newCluster(t, clusterConf())

	inject(engines["M4"], "M5")

	agreed := assertAllDecided(t, engines, nil, 3*time.Second)
	assert.Equal(t, "M5", agreed)
}

func TestScenarioConcurrentProposals(t *testing.T) {
	_, engines := newCluster(t, clusterConf())

	inject(engines["M1"], "M1")
	time.Sleep(30 * time.Millisecond)
	inject(engines["M8"], "M8")

	agreed := assertAllDecided(t, engines, nil, 10*time.Second)
	assert.Contains(t, []string{"M1", "M8"}, agreed)
}

func TestScenarioRecoveryOverPriorAccept(t *testing.T) {
	lb, engines := newCluster(t, clusterConf())

	// A previous round got as far as accepts on five members (a full
	// quorum, so the value is potentially chosen) before its proposer
	// vanished. Every five-member promise quorum now intersects the
	// holders, so the new proposer is guaranteed to see the prior accept.
	for _, id := range []string{"M2", "M3", "M5", "M6", "M8"} {
		engines[id].acceptor.ReceiveAccept(103, "M3")
	}
	lb.remove("M3")
	skip := map[string]bool{"M3": true}

	inject(engines["M1"], "M7")

	agreed := assertAllDecided(t, engines, skip, 10*time.Second)
	assert.Equal(t, "M3", agreed, "the previously accepted value must win over the new candidate")
}

func TestScenarioFailingProposer(t *testing.T) {
	lb, engines := newCluster(t, clusterConf())

	// M3 prepared at n=103 and crashed before any accept: every acceptor
	// except the new proposer M1's holds a promise at 103 and M3 is gone.
	for id, e := range engines {
		if id != "M1" {
			e.acceptor.ReceivePrepare(103)
		}
	}
	lb.remove("M3")
	skip := map[string]bool{"M3": true}

	inject(engines["M1"], "M7")

	agreed := assertAllDecided(t, engines, skip, 10*time.Second)
	assert.Equal(t, "M7", agreed)

	// The winning round escalated past the orphaned 103.
	_, acceptedN, _ := engines["M2"].AcceptorState()
	assert.GreaterOrEqual(t, acceptedN, int64(201))
}

func TestScenarioLossyNetwork(t *testing.T) {
	conf := clusterConf()
	lb, engines := newCluster(t, conf)

	var mu sync.Mutex
	rng := rand.New(rand.NewSource(99))
	lb.setDrop(func(string, config.Member, messages.Message) bool {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64() < 0.25
	})

	// The seekers re-advertise the decision, so even a member whose every
	// decide was dropped eventually converges.
	seekConf := *conf
	seekConf.SEEK_PERIOD_MS = 100
	for _, e := range engines {
		s := NewSeeker(e, &seekConf)
		go s.Run()
		defer s.Stop()
	}

	inject(engines["M1"], "M1")

	agreed := assertAllDecided(t, engines, nil, 30*time.Second)
	assert.Equal(t, "M1", agreed)
}

func TestScenarioLateLearner(t *testing.T) {
	conf := clusterConf()
	lb, engines := newCluster(t, conf)

	// M9 is partitioned away through both phases.
	lb.setDrop(func(from string, to config.Member, _ messages.Message) bool {
		return from == "M9" || to.ID == "M9"
	})

	inject(engines["M1"], "M2")
	skip := map[string]bool{"M9": true}
	agreed := assertAllDecided(t, engines, skip, 10*time.Second)
	require.Equal(t, "M2", agreed)
	_, ok := decidedValue(engines["M9"])
	require.False(t, ok, "the partitioned member cannot have decided")

	// Heal the partition; one seek round from any decided member is enough
	// to transmit a decide to the straggler.
	lb.setDrop(nil)
	seekConf := *conf
	seekConf.PR_NODES = 1.0
	s := NewSeeker(engines["M1"], &seekConf)
	s.seek()

	waitFor(t, 5*time.Second, "the late learner adopting the decision", func() bool {
		v, ok := decidedValue(engines["M9"])
		return ok && v == "M2"
	})
}

func TestScenarioQuorumOfAcceptorsIsEnough(t *testing.T) {
	lb, engines := newCluster(t, clusterConf())

	// Four members down leaves exactly a five-member quorum: the proposer
	// and four peers. The proposer's own votes count, so this must still
	// decide.
	for _, id := range []string{"M6", "M7", "M8", "M9"} {
		lb.remove(id)
	}
	skip := map[string]bool{"M6": true, "M7": true, "M8": true, "M9": true}

	inject(engines["M2"], "M2")

	agreed := assertAllDecided(t, engines, skip, 10*time.Second)
	assert.Equal(t, "M2", agreed)
}

func TestProposalNumbersUniqueAcrossMembers(t *testing.T) {
	// P6: no two members can ever mint the same n, because the id suffix
	// is baked into the number.
	seen := map[int64]string{}
	for k := 1; k <= 9; k++ {
		id := fmt.Sprintf("M%d", k)
		for counter := int64(1); counter <= 50; counter++ {
			n := counter*100 + int64(k)
			if owner, dup := seen[n]; dup {
				t.Fatalf("n=%d minted by both %s and %s", n, owner, id)
			}
			seen[n] = id
		}
	}
}
