package compass

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryCreatesEngineExactlyOnce(t *testing.T) {
	registry := NewRegistry(WithSimilarity(exactName))

	model := classModel(t, 1, "Customer")
	var loads atomic.Int32
	load := func(ctx context.Context, engine *Engine) error {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		engine.AddDiagram(model)
		return nil
	}

	var wg sync.WaitGroup
	engines := make([]*Engine, 32)
	errs := make([]error, len(engines))
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engines[i], errs[i] = registry.GetOrCreate(context.Background(), 7, load)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), loads.Load())
	for _, engine := range engines {
		require.Same(t, engines[0], engine)
	}
	require.Equal(t, 1, registry.Len())
	require.Equal(t, uint(7), engines[0].ExerciseID())
}

func TestRegistryLoadOutlivesCancelledCaller(t *testing.T) {
	registry := NewRegistry(WithSimilarity(exactName))

	model := classModel(t, 1, "Customer")
	started := make(chan struct{})
	release := make(chan struct{})
	var loads atomic.Int32
	var loadErr atomic.Value
	load := func(ctx context.Context, engine *Engine) error {
		loads.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			loadErr.Store(err)
			return err
		}
		engine.AddDiagram(model)
		return nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := registry.GetOrCreate(firstCtx, 3, load)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		engine *Engine
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		engine, err := registry.GetOrCreate(context.Background(), 3, load)
		second <- outcome{engine: engine, err: err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.engine)
	require.Nil(t, loadErr.Load())
	require.Equal(t, int32(1), loads.Load())
	require.Equal(t, []uint{1}, got.engine.Submissions())
	require.Equal(t, 1, registry.Len())
}

func TestRegistryRetriesFailedLoad(t *testing.T) {
	registry := NewRegistry()
	errBoom := errors.New("boom")

	_, err := registry.GetOrCreate(context.Background(), 1, func(ctx context.Context, engine *Engine) error {
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 0, registry.Len())

	engine, err := registry.GetOrCreate(context.Background(), 1, nil)
	require.NoError(t, err)
	require.NotNil(t, engine)
}

func TestRegistryEvictsIdleEngines(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	registry := NewRegistry(WithClock(clock), WithSimilarity(exactName))
	idle, err := registry.GetOrCreate(context.Background(), 1, nil)
	require.NoError(t, err)

	advance(20 * time.Hour)
	active, err := registry.GetOrCreate(context.Background(), 2, nil)
	require.NoError(t, err)

	advance(5 * time.Hour)
	evicted := registry.EvictIdle(24 * time.Hour)
	require.Equal(t, []uint{1}, evicted)
	require.Equal(t, 1, registry.Len())

	current, ok := registry.Get(2)
	require.True(t, ok)
	require.Same(t, active, current)

	// the evicted instance keeps working for callers holding it
	idle.AddDiagram(classModel(t, 1, "Customer"))
	require.Equal(t, []uint{1}, idle.Submissions())

	fresh, err := registry.GetOrCreate(context.Background(), 1, nil)
	require.NoError(t, err)
	require.NotSame(t, idle, fresh)
	require.Empty(t, fresh.Submissions())
}

func TestRegistryRemove(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.GetOrCreate(context.Background(), 3, nil)
	require.NoError(t, err)

	require.True(t, registry.Remove(3))
	require.False(t, registry.Remove(3))
	_, ok := registry.Get(3)
	require.False(t, ok)
}
