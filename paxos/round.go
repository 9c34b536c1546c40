package paxos

import "go-electorate/paxos/messages"

// round is the record of one proposal attempt. It is exclusively owned by
// the proposer driver of one member and replaced wholesale when a new n is
// allocated; delayed callbacks that still hold the old n self-cancel by
// comparing it against the current record.
type round struct {
	n         int64
	proposedV string // may be overwritten once at promise-quorum

	promisesFrom map[string]bool
	acceptedByN  map[string]int64  // prior accepts reported inside promises
	acceptedByV  map[string]string // only where the promise carried both fields
	acceptedFrom map[string]bool

	highestRejection int64

	phase2Launched bool
	decided        bool
	decidedV       string
}

func newRound(n int64, candidate string) *round {
	return &round{
		n:                n,
		proposedV:        candidate,
		promisesFrom:     make(map[string]bool),
		acceptedByN:      make(map[string]int64),
		acceptedByV:      make(map[string]string),
		acceptedFrom:     make(map[string]bool),
		highestRejection: messages.None,
	}
}

// recordPromise notes a promise from peer, keeping the prior accept it
// reports when both fields are present.
func (r *round) recordPromise(peer string, acceptedN int64, acceptedV string) {
	r.promisesFrom[peer] = true
	if acceptedN >= 0 && acceptedV != "" {
		r.acceptedByN[peer] = acceptedN
		r.acceptedByV[peer] = acceptedV
	}
}

// selectValue applies the value-selection rule at promise-quorum: among the
// prior accepts reported in the promises, adopt the value paired with the
// highest acceptedN; with no prior accepts the caller's candidate stands.
// It reports whether a prior value was adopted.
func (r *round) selectValue() bool {
	bestN := messages.None
	bestV := ""
	for peer, n := range r.acceptedByN {
		if n > bestN {
			bestN = n
			bestV = r.acceptedByV[peer]
		}
	}
	if bestN >= 0 {
		r.proposedV = bestV
		return true
	}
	return false
}

// recordReject folds a rejection's higherN into the round.
func (r *round) recordReject(higherN int64) {
	if higherN > r.highestRejection {
		r.highestRejection = higherN
	}
}
