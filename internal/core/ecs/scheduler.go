package ecs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UpdatePhase defines execution ordering within a single world update.
type UpdatePhase int

const (
	PhasePreAsync      UpdatePhase = iota // 0: sequential, structural changes allowed
	PhaseAsync                            // 1: ranges run on worker goroutines
	PhasePostAsync                        // 2: sequential
	PhasePostTransform                    // 3: sequential, after transforms settle
	phaseCount
)

func (p UpdatePhase) String() string {
	switch p {
	case PhasePreAsync:
		return "pre-async"
	case PhaseAsync:
		return "async"
	case PhasePostAsync:
		return "post-async"
	case PhasePostTransform:
		return "post-transform"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// UpdateContext is the slice of a manager's storage one call works on.
type UpdateContext struct {
	World     *World
	Manager   TypeID
	First     int
	Count     int
	Frame     uint64
	DeltaTime time.Duration
}

// UpdateFunctionDesc describes per-frame work registered by a component
// manager. Granularity 0 processes all components in one call; otherwise it
// is rounded up to a multiple of the block capacity.
type UpdateFunctionDesc struct {
	Name               string
	Func               func(UpdateContext)
	Phase              UpdatePhase
	Priority           int
	Granularity        int
	OnlyWhenSimulating bool
}

type scheduledUpdate struct {
	desc    UpdateFunctionDesc
	manager componentManager
	order   int
}

type scheduler struct {
	phases [phaseCount][]*scheduledUpdate
	sorted bool
	order  int

	errMu sync.Mutex
	errs  []error
}

func (s *scheduler) register(m componentManager, desc UpdateFunctionDesc) {
	if desc.Phase < 0 || desc.Phase >= phaseCount {
		desc.Phase = PhasePreAsync
	}
	if desc.Granularity > 0 {
		desc.Granularity = roundUp(desc.Granularity, m.BlockCapacity())
	} else {
		desc.Granularity = 0
	}
	if desc.Name == "" {
		desc.Name = m.Name() + ".update"
	}
	s.order++
	s.phases[desc.Phase] = append(s.phases[desc.Phase], &scheduledUpdate{
		desc:    desc,
		manager: m,
		order:   s.order,
	})
	s.sorted = false
}

func (s *scheduler) ensureSorted() {
	if s.sorted {
		return
	}
	for _, list := range s.phases {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].desc.Priority != list[j].desc.Priority {
				return list[i].desc.Priority < list[j].desc.Priority
			}
			return list[i].order < list[j].order
		})
	}
	s.sorted = true
}

// run executes every phase in order and returns the panics recovered along
// the way.
func (s *scheduler) run(w *World, base UpdateContext) error {
	s.ensureSorted()
	s.errs = s.errs[:0]
	simulating := w.IsSimulating()

	for phase := UpdatePhase(0); phase < phaseCount; phase++ {
		if phase == PhaseAsync {
			w.asyncPhase.Store(true)
			s.runAsync(w, s.phases[phase], base, simulating)
			w.asyncPhase.Store(false)
			continue
		}
		for _, u := range s.phases[phase] {
			if u.desc.OnlyWhenSimulating && !simulating {
				continue
			}
			for _, ctx := range partition(u.manager.Len(), u.desc.Granularity) {
				s.call(w, u, withBase(ctx, base, u.manager))
			}
		}
	}
	return errors.Join(s.errs...)
}

// runAsync gives every manager its own goroutine so that different managers
// proceed concurrently. A manager's functions run one after another, each
// fanning its disjoint ranges out to at most w.workers goroutines.
func (s *scheduler) runAsync(w *World, list []*scheduledUpdate, base UpdateContext, simulating bool) {
	byManager := make(map[componentManager][]*scheduledUpdate)
	var managers []componentManager
	for _, u := range list {
		if u.desc.OnlyWhenSimulating && !simulating {
			continue
		}
		if _, ok := byManager[u.manager]; !ok {
			managers = append(managers, u.manager)
		}
		byManager[u.manager] = append(byManager[u.manager], u)
	}

	var outer errgroup.Group
	for _, m := range managers {
		updates := byManager[m]
		outer.Go(func() error {
			for _, u := range updates {
				var inner errgroup.Group
				inner.SetLimit(w.workers)
				for _, ctx := range partition(m.Len(), u.desc.Granularity) {
					ctx := withBase(ctx, base, m)
					inner.Go(func() error {
						s.call(w, u, ctx)
						return nil
					})
				}
				_ = inner.Wait()
			}
			return nil
		})
	}
	_ = outer.Wait()
}

func (s *scheduler) call(w *World, u *scheduledUpdate, ctx UpdateContext) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("update %s [%d,+%d): panic: %v", u.desc.Name, ctx.First, ctx.Count, r)
			w.log.Error("update function panicked",
				zap.String("function", u.desc.Name),
				zap.Stringer("phase", u.desc.Phase),
				zap.Any("panic", r))
			s.errMu.Lock()
			s.errs = append(s.errs, err)
			s.errMu.Unlock()
		}
	}()
	u.desc.Func(ctx)
}

// partition splits [0, n) into consecutive ranges of at most g elements.
// g == 0 yields a single range. No range is produced for n == 0.
func partition(n, g int) []UpdateContext {
	if n <= 0 {
		return nil
	}
	if g <= 0 || g >= n {
		return []UpdateContext{{First: 0, Count: n}}
	}
	out := make([]UpdateContext, 0, (n+g-1)/g)
	for first := 0; first < n; first += g {
		count := g
		if first+count > n {
			count = n - first
		}
		out = append(out, UpdateContext{First: first, Count: count})
	}
	return out
}

func withBase(ctx, base UpdateContext, m componentManager) UpdateContext {
	ctx.World = base.World
	ctx.Frame = base.Frame
	ctx.DeltaTime = base.DeltaTime
	ctx.Manager = m.TypeID()
	return ctx
}

func roundUp(n, multiple int) int {
	if multiple <= 0 {
		return n
	}
	return (n + multiple - 1) / multiple * multiple
}
