package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput   Phase = iota // 0: drain session queues, admit commands
	PhaseCommand              // 1: execute admitted commands in order
	PhaseClock                // 2: advance the simulation clock
	PhaseOutput               // 3: dispatch events, send packets
	PhasePersist              // 4: journal flush, autosave
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseCommand:
		return "command"
	case PhaseClock:
		return "clock"
	case PhaseOutput:
		return "output"
	case PhasePersist:
		return "persist"
	default:
		return "unknown"
	}
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
