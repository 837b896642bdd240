package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/resource"
)

// ResourceSweepSystem evicts resources unused for longer than grace every
// interval ticks. Phase 2 (Maintain).
type ResourceSweepSystem struct {
	rm        *resource.Manager
	grace     time.Duration
	interval  int // sweep every N ticks
	tickCount int
	log       *zap.Logger
}

func NewResourceSweepSystem(rm *resource.Manager, grace time.Duration, intervalTicks int, log *zap.Logger) *ResourceSweepSystem {
	return &ResourceSweepSystem{
		rm:       rm,
		grace:    grace,
		interval: max(intervalTicks, 1),
		log:      log,
	}
}

func (s *ResourceSweepSystem) Phase() coresys.Phase { return coresys.PhaseMaintain }

func (s *ResourceSweepSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	if freed := s.rm.FreeUnusedResources(s.grace); freed > 0 {
		s.log.Debug("resources evicted",
			zap.Int("freed", freed),
			zap.Stringer("stats", s.rm.Stats()))
	}
}
