package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	coresys "github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/resource"
)

// CollectionPreloadSystem streams a collection in a few entries per tick
// and reports when everything it lists has finished loading. Phase 0
// (Stream).
type CollectionPreloadSystem struct {
	col      resource.Handle[*resource.Collection]
	perTick  int
	log      *zap.Logger
	started  time.Time
	progress float64
	done     bool
}

// NewCollectionPreloadSystem takes ownership of col; Close releases it.
func NewCollectionPreloadSystem(col resource.Handle[*resource.Collection], perTick int, log *zap.Logger) *CollectionPreloadSystem {
	return &CollectionPreloadSystem{col: col, perTick: perTick, log: log}
}

func (s *CollectionPreloadSystem) Phase() coresys.Phase { return coresys.PhaseStream }

func (s *CollectionPreloadSystem) Done() bool        { return s.done }
func (s *CollectionPreloadSystem) Progress() float64 { return s.progress }

func (s *CollectionPreloadSystem) Update(_ time.Duration) {
	if s.done || !s.col.IsValid() {
		return
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}

	lock, err := resource.Acquire(context.Background(), s.col, resource.AcquirePointerOnly)
	if err != nil {
		s.log.Error("acquire collection", zap.Error(err))
		s.done = true
		return
	}
	defer lock.Release()

	switch s.col.State() {
	case resource.StateLoaded:
	case resource.StateLoadedResourceMissing:
		s.log.Warn("collection missing, nothing preloaded",
			zap.Stringer("collection", s.col.Key()))
		s.done = true
		return
	default:
		lock.Get().Manager().PreloadResource(s.col)
		return
	}

	col := lock.Get()
	col.PreloadResources(s.perTick)
	finished, progress := col.IsLoadingFinished()
	s.progress = progress
	if finished {
		s.done = true
		s.log.Info("collection loaded",
			zap.Stringer("collection", s.col.Key()),
			zap.Int("entries", len(col.Entries())),
			zap.Duration("took", time.Since(s.started)))
	}
}

// Close releases the collection. The entries it issued stay referenced
// until the collection itself is evicted.
func (s *CollectionPreloadSystem) Close() {
	s.col.Release()
	s.col = resource.Handle[*resource.Collection]{}
}
