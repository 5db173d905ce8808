package turn

import "sync/atomic"

type phase int32

const (
	phaseIdle phase = iota
	phaseInFlight
)

// gate admits one turn at a time. Both UI flags are derived from its single state token, so they are
// raised and released together.
type gate struct {
	state atomic.Int32
}

func (g *gate) acquire() bool {
	return g.state.CompareAndSwap(int32(phaseIdle), int32(phaseInFlight))
}

func (g *gate) release() {
	g.state.Store(int32(phaseIdle))
}

func (g *gate) inFlight() bool {
	return phase(g.state.Load()) == phaseInFlight
}
