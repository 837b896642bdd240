package system

import "time"

// Phase defines execution ordering within a single host tick.
type Phase int

const (
	PhaseStream   Phase = iota // 0: issue resource preloads
	PhaseSimulate              // 1: world updates
	PhaseMaintain              // 2: eviction sweeps, stats
)

func (p Phase) String() string {
	switch p {
	case PhaseStream:
		return "stream"
	case PhaseSimulate:
		return "simulate"
	case PhaseMaintain:
		return "maintain"
	}
	return "unknown"
}

// System is the interface every host system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
