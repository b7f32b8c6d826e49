package app

import "github.com/dkeye/squadlink/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	CloseConnection
)

// Policy decides what happens to a connection whose send buffer refused a frame.
type Policy interface {
	OnBackPressure(id core.ConnID, conn core.SignalConnection) BackpressureAction
}

// SimplePolicy closes slow consumers; the heartbeat and read pump then run the
// regular disconnect path.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ConnID, core.SignalConnection) BackpressureAction {
	return CloseConnection
}

// LenientPolicy only drops the frame.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.ConnID, core.SignalConnection) BackpressureAction {
	return DropFrame
}
