// The acceptor is purely reactive: it never sends on its own and only
// answers prepare and accept requests. It can refuse any request without
// compromising safety, so the only rules below say when it must answer
// positively.
//
// With the standard optimization an acceptor only remembers the number of
// the highest prepare request it has answered and the highest-numbered
// proposal it has accepted. Both are kept in memory for the lifetime of the
// process and are never reset.

package paxos

import (
	"log"
	"sync"

	"go-electorate/paxos/messages"
)

// PrepareOutcome is the acceptor's answer to a prepare request: either a
// promise carrying the prior accept (if any), or a rejection carrying the
// number that beat the request.
type PrepareOutcome struct {
	Promised  bool
	AcceptedN int64  // prior accepted round, None when the acceptor never accepted
	AcceptedV string // value of the prior accept, "" when absent
	HigherN   int64  // the acceptor's promisedN, set on rejection
}

// AcceptOutcome is the acceptor's answer to an accept request.
type AcceptOutcome struct {
	Accepted bool
	HigherN  int64 // the acceptor's promisedN, set on rejection
}

// Acceptor holds the promise/accept record of one member. All three fields
// move together under one mutex; acceptedN <= promisedN at all times and
// acceptedV is empty exactly when acceptedN is None.
type Acceptor struct {
	mu        sync.Mutex
	promisedN int64
	acceptedN int64
	acceptedV string
}

// NewAcceptor returns an acceptor that has promised and accepted nothing.
func NewAcceptor() *Acceptor {
	return &Acceptor{
		promisedN: messages.None,
		acceptedN: messages.None,
	}
}

// ReceivePrepare answers a prepare request numbered n. A promise is given
// only when n is strictly higher than every number promised so far; the
// promise carries the acceptor's prior accept so the proposer can apply the
// value-selection rule.
func (a *Acceptor) ReceivePrepare(n int64) PrepareOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n > a.promisedN {
		a.promisedN = n
		log.Printf("[ACCEPTOR] -> n: %d is the highest number seen so far; sending back a promise.", n)
		return PrepareOutcome{
			Promised:  true,
			AcceptedN: a.acceptedN,
			AcceptedV: a.acceptedV,
			HigherN:   messages.None,
		}
	}

	log.Printf("[ACCEPTOR] -> n: %d is not higher than the promised %d; sending back a reject.", n, a.promisedN)
	return PrepareOutcome{AcceptedN: messages.None, HigherN: a.promisedN}
}

// ReceiveAccept answers an accept request (n, v). The comparison is >= (not
// strictly greater) so that a proposer promised at exactly n can still have
// its value accepted by the same acceptor.
func (a *Acceptor) ReceiveAccept(n int64, v string) AcceptOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n >= a.promisedN {
		a.promisedN = n
		a.acceptedN = n
		a.acceptedV = v
		log.Printf("[ACCEPTOR] -> accepting value '%s' at n: %d.", v, n)
		return AcceptOutcome{Accepted: true, HigherN: messages.None}
	}

	log.Printf("[ACCEPTOR] -> n: %d is below the promised %d; declining the accept request.", n, a.promisedN)
	return AcceptOutcome{HigherN: a.promisedN}
}

// Snapshot reports the current promise/accept record.
func (a *Acceptor) Snapshot() (promisedN, acceptedN int64, acceptedV string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.promisedN, a.acceptedN, a.acceptedV
}
