package paxos

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go-electorate/paxos/config"
	"go-electorate/paxos/messages"
)

// testMembers builds the canonical nine-member set M1..M9.
func testMembers() []config.Member {
	var members []config.Member
	for k := 1; k <= 9; k++ {
		members = append(members, config.Member{
			ID:   fmt.Sprintf("M%d", k),
			Host: "127.0.0.1",
			Port: 9000 + k,
		})
	}
	return members
}

// testConf returns settings with timeouts long enough that no timer fires
// during a unit test unless the test shrinks them on purpose.
func testConf() *config.Conf {
	c := &config.Conf{SEED: 1}
	c.FillEmptyFields(9)
	c.PREPARE_TIMEOUT_MS = 60_000
	c.ACCEPT_TIMEOUT_MS = 60_000
	c.RETRY_JITTER_MIN_MS = 1
	c.RETRY_JITTER_MAX_MS = 3
	return c
}

type capturedSend struct {
	To  config.Member
	Msg messages.Message
}

// captureSender records every outbound message. Broadcast sends run on
// their own goroutines, so assertions over the capture go through waitFor.
type captureSender struct {
	mu   sync.Mutex
	sent []capturedSend
}

func (c *captureSender) Send(to config.Member, m messages.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, capturedSend{To: to, Msg: m})
}

func (c *captureSender) ofType(t messages.Type) []capturedSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedSend
	for _, s := range c.sent {
		if s.Msg.Type == t {
			out = append(out, s)
		}
	}
	return out
}

func (c *captureSender) count(t messages.Type) int {
	return len(c.ofType(t))
}

// newTestEngine builds an engine over the nine-member set with a capturing
// sender.
func newTestEngine(t *testing.T, selfID string, conf *config.Conf) (*Engine, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	e, err := NewEngine(selfID, testMembers(), conf, sender, nil)
	if err != nil {
		t.Fatalf("building engine %s: %v", selfID, err)
	}
	return e, sender
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settles asserts that cond keeps holding for a short grace period; used to
// show that something did NOT happen.
func settles(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(80 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !cond() {
			t.Fatalf("%s stopped holding", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// promiseFrom builds a promise for round n with no prior accept;
// promiseWithAccept builds one that carries a prior accept.
func promiseFrom(peer string, n int64) messages.Message {
	m := messages.New(messages.Promise, peer)
	m.N = n
	return m
}

func promiseWithAccept(peer string, n, acceptedN int64, acceptedV string) messages.Message {
	m := promiseFrom(peer, n)
	m.AcceptedN = acceptedN
	m.AcceptedV = acceptedV
	return m
}

func acceptedFrom(peer string, n int64, v string) messages.Message {
	m := messages.New(messages.Accepted, peer)
	m.N = n
	m.V = v
	return m
}

func decideFrom(peer, v string) messages.Message {
	m := messages.New(messages.Decide, peer)
	m.V = v
	return m
}
