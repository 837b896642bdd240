package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	coresys "github.com/l1jgo/worldcore/internal/core/system"
)

// WorldSystem advances one world per tick. Phase 1 (Simulate).
type WorldSystem struct {
	world *ecs.World
	log   *zap.Logger
}

func NewWorldSystem(world *ecs.World, log *zap.Logger) *WorldSystem {
	return &WorldSystem{world: world, log: log}
}

func (s *WorldSystem) Phase() coresys.Phase { return coresys.PhaseSimulate }

func (s *WorldSystem) Update(_ time.Duration) {
	if err := s.world.Update(); err != nil {
		s.log.Error("world update failed",
			zap.String("world", s.world.Name()),
			zap.Uint64("frame", s.world.Frame()),
			zap.Error(err))
	}
}
