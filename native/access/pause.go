package access

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"capsupply/core/events"
)

// Pauser is the system-wide pause gate. It satisfies common.PauseView; every
// module shares the single flag.
type Pauser struct {
	mu      sync.RWMutex
	paused  bool
	emitter events.Emitter
}

// NewPauser returns an unpaused gate.
func NewPauser() *Pauser {
	return &Pauser{emitter: events.NoopEmitter{}}
}

// SetEmitter overrides the event emitter.
func (p *Pauser) SetEmitter(emitter events.Emitter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

// IsPaused implements common.PauseView.
func (p *Pauser) IsPaused(string) bool { return p.Paused() }

// Paused reports the gate state.
func (p *Pauser) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// Set flips the gate and reports whether the state changed. Role checks are
// the caller's concern.
func (p *Pauser) Set(actor common.Address, paused bool) bool {
	p.mu.Lock()
	if p.paused == paused {
		p.mu.Unlock()
		return false
	}
	p.paused = paused
	emitter := p.emitter
	p.mu.Unlock()

	emitter.Emit(events.PauseToggled{Actor: actor, Paused: paused})
	return true
}
