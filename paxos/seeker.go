// seeker.go adds a small anti-entropy task next to the learner. The one-shot
// decide gossip is enough on a quiet network, but a member that was
// partitioned through both phases only converges once somebody transmits a
// decide after it comes back. The seeker periodically re-advertises the
// decision to a random subset of peers; the subset is probabilistic so nine
// seekers do not flood the network together.

package paxos

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"go-electorate/paxos/config"
	"go-electorate/paxos/messages"
)

// Seeker re-advertises a known decision on a fixed period.
type Seeker struct {
	engine *Engine
	period time.Duration
	prNode float64

	mu   sync.Mutex
	rng  *rand.Rand
	quit chan struct{}
	once sync.Once
}

// NewSeeker builds a seeker over the engine using the configured period and
// per-peer selection probability.
func NewSeeker(e *Engine, conf *config.Conf) *Seeker {
	seed := conf.SEED
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeker{
		engine: e,
		period: conf.SeekPeriod(),
		prNode: conf.PR_NODES,
		rng:    rand.New(rand.NewSource(seed + 1)),
		quit:   make(chan struct{}),
	}
}

// Run loops until Stop is called. It is meant to run on its own goroutine.
func (s *Seeker) Run() {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.seek()
		}
	}
}

// Stop terminates the seeking loop.
func (s *Seeker) Stop() {
	s.once.Do(func() { close(s.quit) })
}

// seek re-sends the decide to a randomly extracted set of peers, if this
// member knows a decision. Extraction with probability prNode keeps the
// total re-advertising traffic bounded; periodicity guarantees every peer
// is eventually reached.
func (s *Seeker) seek() {
	v, ok := s.engine.Decided()
	if !ok {
		return
	}

	targets := s.extractRandomPeers()
	if len(targets) == 0 {
		return
	}

	log.Printf("[SEEKER] -> re-advertising decision '%s' to %d peer(s).", v, len(targets))
	dm := messages.New(messages.Decide, s.engine.ID())
	dm.V = v
	for _, peer := range targets {
		go s.engine.sender.Send(peer, dm)
	}
}

// extractRandomPeers selects each peer with probability prNode.
func (s *Seeker) extractRandomPeers() []config.Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	var peers []config.Member
	for _, m := range s.engine.members {
		if m.ID == s.engine.self.ID {
			continue
		}
		if s.rng.Float64() < s.prNode {
			peers = append(peers, m)
		}
	}
	return peers
}
