package transport

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"go-electorate/paxos/config"
	"go-electorate/paxos/messages"
)

// sender is the outbound half consumed by the fault wrapper. *TCPSender
// satisfies it, as does any other delivery mechanism.
type sender interface {
	Send(to config.Member, m messages.Message)
}

// FaultySender injects the host-side fault profile into every send:
// probabilistic drops and a uniform random extra delay. The consensus core
// broadcasts through it without knowing; the dropped or delayed messages
// look exactly like network loss.
type FaultySender struct {
	inner   sender
	profile config.Profile

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFaultySender wraps inner with the given profile. A zero profile is a
// transparent pass-through, so the reliable profile uses this path too.
func NewFaultySender(inner sender, profile config.Profile, seed int64) *FaultySender {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FaultySender{
		inner:   inner,
		profile: profile,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (f *FaultySender) Send(to config.Member, m messages.Message) {
	if drop, delay := f.roll(); drop {
		log.Printf("[TRANSPORT] -> profile dropped a %s to %s.", m.Type, to.ID)
		return
	} else if delay > 0 {
		time.Sleep(delay)
	}
	f.inner.Send(to, m)
}

// roll decides the fate of one send under the profile.
func (f *FaultySender) roll() (drop bool, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.profile.DROP_RATE > 0 && f.rng.Float64() < f.profile.DROP_RATE {
		return true, 0
	}
	if f.profile.DELAY_MAX_MS > f.profile.DELAY_MIN_MS {
		span := int64(f.profile.DELAY_MAX_MS - f.profile.DELAY_MIN_MS)
		ms := int64(f.profile.DELAY_MIN_MS) + f.rng.Int63n(span)
		return false, time.Duration(ms) * time.Millisecond
	}
	if f.profile.DELAY_MIN_MS > 0 {
		return false, time.Duration(f.profile.DELAY_MIN_MS) * time.Millisecond
	}
	return false, 0
}
