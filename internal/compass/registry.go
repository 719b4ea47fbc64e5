package compass

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoSubmissions indicates an exercise without any submission to build an engine from.
var ErrNoSubmissions = errors.New("exercise has no submissions")

// Loader populates a freshly created engine, typically from persisted submissions and
// completed manual assessments.
type Loader func(ctx context.Context, engine *Engine) error

// Registry maps exercises to their engines. Each engine is created exactly once even under
// concurrent first access; creation for different exercises proceeds independently.
type Registry struct {
	opts []Option
	now  func() time.Time

	mu      sync.RWMutex
	engines map[uint]*Engine
	group   singleflight.Group
}

// NewRegistry creates an empty registry. The options are applied to every engine it creates.
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		opts:    opts,
		now:     o.now,
		engines: make(map[uint]*Engine),
	}
}

// Get returns the engine of an exercise if one is loaded.
func (r *Registry) Get(exerciseID uint) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[exerciseID]
	return engine, ok
}

// GetOrCreate returns the engine of an exercise, creating and loading it on first access.
// A failed load leaves no engine behind so the next call retries. The load is shared by
// every concurrent caller and is not cancelled with the caller that started it; a caller
// whose ctx ends stops waiting and gets ctx.Err().
func (r *Registry) GetOrCreate(ctx context.Context, exerciseID uint, load Loader) (*Engine, error) {
	if engine, ok := r.Get(exerciseID); ok {
		return engine, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(strconv.FormatUint(uint64(exerciseID), 10), func() (interface{}, error) {
		if engine, ok := r.Get(exerciseID); ok {
			return engine, nil
		}

		engine := NewEngine(exerciseID, r.opts...)
		if load != nil {
			if err := load(loadCtx, engine); err != nil {
				return nil, err
			}
		}

		r.mu.Lock()
		r.engines[exerciseID] = engine
		r.mu.Unlock()
		return engine, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Engine), nil
	}
}

// Remove drops the engine of an exercise. It reports whether one was loaded.
func (r *Registry) Remove(exerciseID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[exerciseID]; !ok {
		return false
	}
	delete(r.engines, exerciseID)
	return true
}

// EvictIdle removes every engine unused for longer than retention and returns the evicted
// exercise ids. Callers still holding an evicted engine keep a working instance; the next
// lookup builds a fresh one.
func (r *Registry) EvictIdle(retention time.Duration) []uint {
	cutoff := r.now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []uint
	for id, engine := range r.engines {
		if engine.LastUsed().Before(cutoff) {
			delete(r.engines, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of loaded engines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}
