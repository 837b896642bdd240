package ecs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionCoverage(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 100, 257} {
		for _, g := range []int{0, 1, 2, 4, 16, 64, 128} {
			seen := make([]int, n)
			for _, r := range partition(n, g) {
				require.Positive(t, r.Count)
				if g > 0 {
					require.LessOrEqual(t, r.Count, g)
				}
				for i := r.First; i < r.First+r.Count; i++ {
					seen[i]++
				}
			}
			for i, c := range seen {
				require.Equal(t, 1, c, "n=%d g=%d index %d", n, g, i)
			}
		}
	}
}

func TestGranularityRoundsToBlocks(t *testing.T) {
	w := newTestWorld(t, WorldDesc{BlockCapacity: 16})
	bm := RegisterComponentType[bar](w, "bar")
	bm.RegisterUpdateFunction(UpdateFunctionDesc{Granularity: 5, Func: func(UpdateContext) {}})
	require.Equal(t, 16, w.scheduler.phases[PhasePreAsync][0].desc.Granularity)
	require.Equal(t, "bar.update", w.scheduler.phases[PhasePreAsync][0].desc.Name)
}

func TestAsyncRangesCoverStorage(t *testing.T) {
	const n = 100
	w := newTestWorld(t, WorldDesc{BlockCapacity: 16, Workers: 4})
	bm := RegisterComponentType[bar](w, "bar")

	var mu sync.Mutex
	seen := make([]int, n)
	var ranges int
	bm.RegisterUpdateFunction(UpdateFunctionDesc{
		Phase:       PhaseAsync,
		Granularity: 16,
		Func: func(ctx UpdateContext) {
			mu.Lock()
			defer mu.Unlock()
			ranges++
			for b := range bm.Components(ctx) {
				seen[b.n]++
			}
		},
	})
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		for i := range n {
			_, b, err := bm.CreateComponent(oh)
			if err != nil {
				return err
			}
			b.n = i
		}
		return nil
	})
	require.NoError(t, w.Update())
	require.Equal(t, 7, ranges)
	for i, c := range seen {
		require.Equal(t, 1, c, "component %d", i)
	}
}

func TestUpdateOrderByPhaseAndPriority(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	fm := RegisterComponentType[foo](w, "foo")
	bm := RegisterComponentType[bar](w, "bar")
	var order []string
	rec := func(name string) func(UpdateContext) {
		return func(UpdateContext) { order = append(order, name) }
	}
	fm.RegisterUpdateFunction(UpdateFunctionDesc{Name: "transform", Phase: PhasePostTransform, Func: rec("transform")})
	bm.RegisterUpdateFunction(UpdateFunctionDesc{Name: "late", Phase: PhasePostAsync, Priority: 2, Func: rec("late")})
	fm.RegisterUpdateFunction(UpdateFunctionDesc{Name: "early", Phase: PhasePostAsync, Priority: 1, Func: rec("early")})
	bm.RegisterUpdateFunction(UpdateFunctionDesc{Name: "tie", Phase: PhasePostAsync, Priority: 2, Func: rec("tie")})
	fm.RegisterUpdateFunction(UpdateFunctionDesc{Name: "pre", Phase: PhasePreAsync, Priority: 9, Func: rec("pre")})

	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		if _, _, err := fm.CreateComponent(oh); err != nil {
			return err
		}
		_, _, err := bm.CreateComponent(oh)
		return err
	})
	require.NoError(t, w.Update())
	require.Equal(t, []string{"pre", "early", "late", "tie", "transform"}, order)
}

func TestUpdatePanicIsReported(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	bm := RegisterComponentType[bar](w, "bar")
	after := 0
	bm.RegisterUpdateFunction(UpdateFunctionDesc{Name: "boom", Func: func(UpdateContext) { panic("boom") }})
	bm.RegisterUpdateFunction(UpdateFunctionDesc{Name: "after", Priority: 1, Func: func(UpdateContext) { after++ }})
	mustWrite(t, w, func() error {
		oh, _, _ := w.CreateObject(GameObjectDesc{})
		_, _, err := bm.CreateComponent(oh)
		return err
	})
	err := w.Update()
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, 1, after)
	require.False(t, w.WriteMarker().Held())
}

func TestEmptyManagerSkipsUpdates(t *testing.T) {
	w := newTestWorld(t, WorldDesc{})
	bm := RegisterComponentType[bar](w, "bar")
	calls := 0
	bm.RegisterUpdateFunction(UpdateFunctionDesc{Func: func(UpdateContext) { calls++ }})
	require.NoError(t, w.Update())
	require.Zero(t, calls)
}
