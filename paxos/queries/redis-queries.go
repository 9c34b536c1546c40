package queries

import (
	"fmt"

	"github.com/go-redis/redis/v7"
	"github.com/google/uuid"
)

// redisRecorder writes the history trail to a redis instance. Rounds go to
// a per-member list, the decision to a per-member key set once.
type redisRecorder struct {
	client *redis.Client
}

func newRedisRecorder(addr string) (*redisRecorder, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping().Result(); err != nil {
		return nil, fmt.Errorf("queries: redis at %s did not PONG back to our PING: %v", addr, err)
	}
	return &redisRecorder{client: client}, nil
}

func (r *redisRecorder) RecordRound(member string, n int64, phase string, v string) {
	entry := fmt.Sprintf("%s:%d:%s:%s", uuid.NewString(), n, phase, v)
	err := r.client.RPush(fmt.Sprintf("rounds:%s", member), entry).Err()
	logErr("recording round", err)
}

func (r *redisRecorder) RecordDecision(member string, v string) {
	// SetNX keeps the first decision; later writes can only carry the same
	// value anyway.
	err := r.client.SetNX(fmt.Sprintf("decision:%s", member), v, 0).Err()
	logErr("recording decision", err)
}

// Decision returns the recorded decision of a member, if any.
func (r *redisRecorder) Decision(member string) (string, bool) {
	v, err := r.client.Get(fmt.Sprintf("decision:%s", member)).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (r *redisRecorder) Close() error {
	return r.client.Close()
}
