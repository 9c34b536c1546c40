// Package paxos implements the main components of a single-decree Paxos
// member: the acceptor, the proposer driver, the learner and the inbound
// dispatch that ties the three roles together.
package paxos

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"go-electorate/paxos/config"
	"go-electorate/paxos/messages"
)

// Sender delivers one message to one peer. Implementations are expected to
// be fire-and-forget: a lost message is silence, never an error surfaced to
// the caller.
type Sender interface {
	Send(to config.Member, m messages.Message)
}

// Recorder receives an observational trail of round transitions and
// decisions. Recording must never influence the protocol.
type Recorder interface {
	RecordRound(member string, n int64, phase string, v string)
	RecordDecision(member string, v string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRound(string, int64, string, string) {}
func (nopRecorder) RecordDecision(string, string)             {}

// Engine is one member's consensus engine: it hosts the three roles and
// routes inbound messages between them. Proposer state (counter, current
// round) and the decision transition are guarded by mu; the acceptor has
// its own lock.
type Engine struct {
	self    config.Member
	selfNum int
	members []config.Member
	byID    map[string]config.Member
	quorum  int
	conf    *config.Conf

	acceptor *Acceptor
	learner  *Learner
	sender   Sender
	recorder Recorder

	mu      sync.Mutex
	counter int64
	round   *round
	rng     *rand.Rand
}

// NewEngine builds the engine of member selfID over the given membership
// set. A nil recorder disables the history trail.
func NewEngine(selfID string, members []config.Member, conf *config.Conf, sender Sender, recorder Recorder) (*Engine, error) {
	self, err := config.FindMember(members, selfID)
	if err != nil {
		return nil, err
	}
	selfNum, err := config.IdNum(selfID)
	if err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	seed := conf.SEED
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	byID := make(map[string]config.Member, len(members))
	for _, m := range members {
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("paxos: duplicate member %q in membership set", m.ID)
		}
		byID[m.ID] = m
	}

	return &Engine{
		self:     self,
		selfNum:  selfNum,
		members:  members,
		byID:     byID,
		quorum:   conf.QUORUM,
		conf:     conf,
		acceptor: NewAcceptor(),
		learner:  NewLearner(selfID),
		sender:   sender,
		recorder: recorder,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// ID returns this member's id.
func (e *Engine) ID() string { return e.self.ID }

// Decided returns the learner's decided value, if any.
func (e *Engine) Decided() (string, bool) { return e.learner.Decided() }

// AcceptorState exposes the promise/accept record, for inspection.
func (e *Engine) AcceptorState() (promisedN, acceptedN int64, acceptedV string) {
	return e.acceptor.Snapshot()
}

// Dispatch is the single inbound entry point: it routes one parsed message
// by type. Unknown types were already refused by the codec, but dropping
// them again here costs nothing.
func (e *Engine) Dispatch(m messages.Message) {
	switch m.Type {
	case messages.Propose:
		if m.V == "" {
			log.Printf("[ENGINE] -> dropping PROPOSE without a candidate value.")
			return
		}
		e.Propose(m.V)
	case messages.Prepare:
		e.receivePrepare(m)
	case messages.AcceptRequest:
		e.receiveAcceptRequest(m)
	case messages.Promise:
		e.receivePromise(m)
	case messages.Accepted:
		e.receiveAccepted(m)
	case messages.Reject:
		e.receiveReject(m)
	case messages.Decide:
		e.receiveDecide(m)
	default:
		log.Printf("[ENGINE] -> dropping message of unknown type %q.", m.Type)
	}
}

// receivePrepare runs the acceptor path for a prepare request. Once a
// decision is known the acceptor is bypassed and the sender is told the
// outcome directly; that is a liveness shortcut, not part of safety.
func (e *Engine) receivePrepare(m messages.Message) {
	if v, ok := e.learner.Decided(); ok {
		dm := messages.New(messages.Decide, e.self.ID)
		dm.V = v
		e.sendTo(m.From, dm)
		return
	}

	out := e.acceptor.ReceivePrepare(m.N)
	if out.Promised {
		pm := messages.New(messages.Promise, e.self.ID)
		pm.N = m.N
		pm.AcceptedN = out.AcceptedN
		pm.AcceptedV = out.AcceptedV
		e.sendTo(m.From, pm)
		return
	}
	rj := messages.New(messages.Reject, e.self.ID)
	rj.HigherN = out.HigherN
	e.sendTo(m.From, rj)
}

// receiveAcceptRequest runs the acceptor path for an accept request. On
// success the accepted is broadcast to every peer and also fed straight
// into the local proposer, which counts it only when it belongs to the
// current round. The proposer's own vote on its own round is recorded at
// phase-2 launch (launchPhase2Locked), not through this path.
func (e *Engine) receiveAcceptRequest(m messages.Message) {
	if v, ok := e.learner.Decided(); ok {
		dm := messages.New(messages.Decide, e.self.ID)
		dm.V = v
		e.sendTo(m.From, dm)
		return
	}

	out := e.acceptor.ReceiveAccept(m.N, m.V)
	if out.Accepted {
		am := messages.New(messages.Accepted, e.self.ID)
		am.N = m.N
		am.V = m.V
		e.broadcast(am)
		e.receiveAccepted(am)
		return
	}
	rj := messages.New(messages.Reject, e.self.ID)
	rj.HigherN = out.HigherN
	e.sendTo(m.From, rj)
}

// receiveDecide records the decision and gossips it at most once per value,
// so a member whose vote was lost on the network still converges as soon as
// any peer transmits a decide.
func (e *Engine) receiveDecide(m messages.Message) {
	if m.V == "" {
		log.Printf("[LEARNER] -> dropping DECIDE without a value.")
		return
	}
	log.Printf("[LEARNER] -> learn: observed decide for '%s' from %s.", m.V, m.From)

	if e.learner.DecideLocal(m.V) {
		e.recorder.RecordDecision(e.self.ID, m.V)
	}
	if e.learner.MarkRelayed(m.V) {
		dm := messages.New(messages.Decide, e.self.ID)
		dm.V = m.V
		e.broadcast(dm)
	}
}

// broadcast sends m to every peer, never to self. Sends are fire-and-forget
// datagrams; each runs in its own goroutine so a slow peer never stalls the
// caller.
func (e *Engine) broadcast(m messages.Message) {
	for _, peer := range e.members {
		if peer.ID == e.self.ID {
			continue
		}
		go e.sender.Send(peer, m)
	}
}

// sendTo sends m to one peer by id. Messages addressed to unknown senders
// (e.g. the external 'script' trigger) are dropped.
func (e *Engine) sendTo(id string, m messages.Message) {
	peer, ok := e.byID[id]
	if !ok || id == e.self.ID {
		return
	}
	go e.sender.Send(peer, m)
}
