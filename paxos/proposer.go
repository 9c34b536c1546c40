// The proposer driver. It mints proposal numbers, drives the two phases of
// a round, and schedules the timeout-driven retries. At most one round is
// active per member; installing a new round abandons the old record in
// place, and any delayed callback still holding the old n self-cancels when
// it re-checks the current round under the mutex.
//
// Broadcast never includes self, so the local acceptor votes here instead:
// a self-promise when the round starts and a self-accept when phase 2
// launches, both recorded straight into the round without the wire. That
// keeps the quorum arithmetic honest — any five live members are enough,
// the proposer included.

package paxos

import (
	"log"
	"time"

	"go-electorate/paxos/messages"
)

// Propose starts a new round for the given candidate value. It is the entry
// point for the external trigger and for the retry timer. The call is
// dropped once this member knows a decision.
func (e *Engine) Propose(candidate string) {
	if v, ok := e.learner.Decided(); ok {
		log.Printf("[PROPOSER] -> value '%s' is already decided; dropping propose of '%s'.", v, candidate)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.counter++
	n := e.counter*100 + int64(e.selfNum)
	r := newRound(n, candidate)
	e.round = r
	e.recorder.RecordRound(e.self.ID, n, "prepare", candidate)

	log.Printf("[PROPOSER] -> starting round n: %d for candidate '%s'.", n, candidate)

	pm := messages.New(messages.Prepare, e.self.ID)
	pm.N = n
	e.broadcast(pm)

	// The local acceptor's vote, without the wire.
	if out := e.acceptor.ReceivePrepare(n); out.Promised {
		e.recordPromiseLocked(r, e.self.ID, out.AcceptedN, out.AcceptedV)
	} else {
		r.recordReject(out.HigherN)
	}

	time.AfterFunc(e.conf.PrepareTimeout(), func() { e.onPrepareTimeout(n) })
}

// receivePromise folds one peer promise into the current round.
func (e *Engine) receivePromise(m messages.Message) {
	if _, ok := e.learner.Decided(); ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round
	if r == nil || m.N != r.n {
		return
	}
	e.recordPromiseLocked(r, m.From, m.AcceptedN, m.AcceptedV)
}

// recordPromiseLocked adds one promise (peer or self) to the round and
// launches phase 2 exactly once when promise-quorum is reached. Promises
// keep arriving past quorum; the launch latch is what makes the
// accept-request single-shot.
func (e *Engine) recordPromiseLocked(r *round, from string, acceptedN int64, acceptedV string) {
	r.recordPromise(from, acceptedN, acceptedV)
	log.Printf("[PROPOSER] -> promise from %s for n: %d (%d/%d).", from, r.n, len(r.promisesFrom), e.quorum)

	if len(r.promisesFrom) >= e.quorum && !r.phase2Launched {
		e.launchPhase2Locked(r)
	}
}

// launchPhase2Locked selects the round's value, broadcasts the accept
// request and records the local acceptor's own vote on it.
func (e *Engine) launchPhase2Locked(r *round) {
	r.phase2Launched = true
	if r.selectValue() {
		log.Printf("[PROPOSER] -> a prior accept was reported; adopting value '%s' for n: %d.", r.proposedV, r.n)
	}
	e.recorder.RecordRound(e.self.ID, r.n, "accept", r.proposedV)

	log.Printf("[PROPOSER] -> promise quorum reached for n: %d; sending accept request with value '%s'.", r.n, r.proposedV)
	am := messages.New(messages.AcceptRequest, e.self.ID)
	am.N = r.n
	am.V = r.proposedV
	e.broadcast(am)

	n := r.n
	time.AfterFunc(e.conf.AcceptTimeout(), func() { e.onAcceptTimeout(n) })

	// Self-acceptance: broadcast does not include self, so this is the
	// only path by which self counts toward its own accept-quorum.
	if out := e.acceptor.ReceiveAccept(r.n, r.proposedV); out.Accepted {
		e.recordAcceptedLocked(r, e.self.ID, r.proposedV)
	} else {
		r.recordReject(out.HigherN)
	}
}

// receiveAccepted folds one peer accepted into the current round.
func (e *Engine) receiveAccepted(m messages.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round
	if r == nil || m.N != r.n {
		return
	}
	e.recordAcceptedLocked(r, m.From, m.V)
}

// recordAcceptedLocked adds one accepted (peer or self) to the round and
// declares the decision on accept-quorum.
func (e *Engine) recordAcceptedLocked(r *round, from, v string) {
	r.acceptedFrom[from] = true
	log.Printf("[PROPOSER] -> accepted from %s for n: %d (%d/%d).", from, r.n, len(r.acceptedFrom), e.quorum)

	if len(r.acceptedFrom) >= e.quorum && !r.decided {
		r.decided = true
		r.decidedV = v
		log.Printf("[PROPOSER] -> accept quorum reached for n: %d; deciding value '%s'.", r.n, r.decidedV)

		if e.learner.DecideLocal(r.decidedV) {
			e.recorder.RecordDecision(e.self.ID, r.decidedV)
		}
		e.learner.MarkRelayed(r.decidedV)

		dm := messages.New(messages.Decide, e.self.ID)
		dm.V = r.decidedV
		e.broadcast(dm)
	}
}

// receiveReject folds a rejection's higherN into the current round, if any.
// Rejections are data, not errors: the recorded number feeds the next bump.
func (e *Engine) receiveReject(m messages.Message) {
	if m.HigherN < 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round == nil {
		return
	}
	e.round.recordReject(m.HigherN)
	log.Printf("[PROPOSER] -> reject from %s reporting higherN: %d.", m.From, m.HigherN)
}

// onPrepareTimeout fires when phase 1 of round n did not reach quorum in
// time. It is a no-op when the round has been superseded, quorum was in
// fact reached, or a decision is known.
func (e *Engine) onPrepareTimeout(n int64) {
	if _, ok := e.learner.Decided(); ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round
	if r == nil || r.n != n || len(r.promisesFrom) >= e.quorum {
		return
	}

	log.Printf("[PROPOSER] -> prepare timeout for n: %d (%d/%d promises); escalating.", n, len(r.promisesFrom), e.quorum)
	e.bumpAndRetryLocked(r)
}

// onAcceptTimeout is the phase-2 twin, keyed on accept-quorum.
func (e *Engine) onAcceptTimeout(n int64) {
	if _, ok := e.learner.Decided(); ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.round
	if r == nil || r.n != n || len(r.acceptedFrom) >= e.quorum {
		return
	}

	log.Printf("[PROPOSER] -> accept timeout for n: %d (%d/%d accepted); escalating.", n, len(r.acceptedFrom), e.quorum)
	e.bumpAndRetryLocked(r)
}

// bumpAndRetryLocked escalates the counter past every rejection seen in the
// round and schedules a re-propose after a small uniform jitter. After one
// round-trip of rejection feedback the next minted n is strictly greater
// than the rejecter's promisedN, which bounds livelock between any two
// proposers in expectation by the jitter.
func (e *Engine) bumpAndRetryLocked(r *round) {
	target := r.n + 100
	if r.highestRejection+1 > target {
		target = r.highestRejection + 1
	}
	bumpCounter := target / 100
	if bumpCounter > e.counter {
		e.counter = bumpCounter
	}

	jitterRange := int64(e.conf.RETRY_JITTER_MAX_MS - e.conf.RETRY_JITTER_MIN_MS)
	if jitterRange <= 0 {
		jitterRange = 1
	}
	jitter := time.Duration(int64(e.conf.RETRY_JITTER_MIN_MS)+e.rng.Int63n(jitterRange)) * time.Millisecond

	candidate := r.proposedV
	log.Printf("[PROPOSER] -> retrying candidate '%s' in %v.", candidate, jitter)
	time.AfterFunc(jitter, func() { e.Propose(candidate) })
}
