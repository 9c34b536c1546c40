// Package queries implements the round/decision history recorder. The
// recorder is an observational audit trail: every round transition and the
// final decision of a member are written to a pluggable backend, and a
// failing backend is logged, never propagated into the protocol.
//
// Acceptor state itself deliberately stays in memory; the recorder only
// mirrors what happened, it is not consulted by the consensus core.
package queries

import (
	"fmt"
	"log"

	"go-electorate/paxos/config"
)

// Recorder is the history trail. The paxos engine consumes the first two
// methods; Close belongs to the host.
type Recorder interface {
	RecordRound(member string, n int64, phase string, v string)
	RecordDecision(member string, v string)
	Close() error
}

// NewRecorder selects the backend configured by db_type: "none" (default),
// "sqlite" or "redis".
func NewRecorder(conf *config.Conf) (Recorder, error) {
	switch conf.DB_TYPE {
	case "", "none":
		return nopRecorder{}, nil
	case "sqlite":
		return newSqliteRecorder(conf.DB_PATH)
	case "redis":
		return newRedisRecorder(conf.REDIS_ADDR)
	default:
		return nil, fmt.Errorf("queries: unknown db_type %q", conf.DB_TYPE)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordRound(string, int64, string, string) {}
func (nopRecorder) RecordDecision(string, string)             {}
func (nopRecorder) Close() error                              { return nil }

// logErr is the shared failure path of the backends.
func logErr(op string, err error) {
	if err != nil {
		log.Printf("[QUERIES] -> %s failed: %v", op, err)
	}
}
