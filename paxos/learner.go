package paxos

import (
	"log"
	"sync"
)

// Learner records the first decision this member observes and keeps the set
// of values it has already gossiped so a decision is relayed at most once.
// decidedValue transitions exactly once from empty to a value and never
// changes afterwards.
type Learner struct {
	mu           sync.Mutex
	self         string
	decidedValue string
	relayed      map[string]bool
}

func NewLearner(self string) *Learner {
	return &Learner{
		self:    self,
		relayed: make(map[string]bool),
	}
}

// DecideLocal records v as the decided value if none is known yet and emits
// the single user-visible consensus line. It reports whether this call was
// the first decision. Later calls with a different value can only happen if
// someone is not following the protocol; they are logged and ignored.
func (l *Learner) DecideLocal(v string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.decidedValue == "" {
		l.decidedValue = v
		log.Printf("[LEARNER] -> consensus reached; member %s decided value '%s'.", l.self, v)
		return true
	}
	if l.decidedValue != v {
		log.Printf("[LEARNER] -> asked to decide '%s' but '%s' is already decided; are you following the algorithm?", v, l.decidedValue)
	}
	return false
}

// Decided returns the decided value, if any.
func (l *Learner) Decided() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decidedValue, l.decidedValue != ""
}

// MarkRelayed reports whether v still needed gossiping and marks it done.
func (l *Learner) MarkRelayed(v string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.relayed[v] {
		return false
	}
	l.relayed[v] = true
	return true
}
