package macro

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Engine runs macros bound to G-keys. Each key owns a slot that is either
// idle or running; singular and repeat macros execute synchronously in the
// goroutine that dispatches the key event, while hold_to_repeat and toggle
// macros run as cancellable background loops.
//
// Cancellation is cooperative and observed at step boundaries only: a step
// that has begun always finishes its press/release pairing, but its hold wait
// is cut short.
type Engine struct {
	log    *zap.Logger
	runner stepRunner

	mu       sync.Mutex
	bindings map[int]Macro
	slots    map[int]*slot
}

type slot struct {
	activation ActivationKind
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewEngine(log *zap.Logger, effector Effector) *Engine {
	return &Engine{
		log:    log,
		runner: stepRunner{log: log, effector: effector},
		slots:  make(map[int]*slot),
	}
}

// SetBindings replaces the binding table. Callers stop running macros first;
// a macro already running keeps the definition it was spawned with and only
// future keydown events see the new table.
func (e *Engine) SetBindings(bindings map[int]Macro) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings = bindings
}

// KeyDown handles a G-key press. For singular and repeat macros the call
// blocks until the macro finishes.
func (e *Engine) KeyDown(ctx context.Context, gkey int) {
	e.mu.Lock()
	if running, ok := e.slots[gkey]; ok {
		// Re-entrancy: a running toggle stops on the second keydown,
		// everything else ignores it.
		if running.activation == ActivationToggle {
			e.log.Debug("stopping toggle macro", zap.Int("gkey", gkey))
			running.cancel()
		}
		e.mu.Unlock()
		return
	}
	m, bound := e.bindings[gkey]
	if !bound {
		e.mu.Unlock()
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &slot{
		activation: m.Activation.Kind,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	e.slots[gkey] = s
	e.mu.Unlock()

	e.log.Debug("starting macro",
		zap.Int("gkey", gkey),
		zap.String("activation", string(m.Activation.Kind)))

	switch m.Activation.Kind {
	case ActivationHoldToRepeat, ActivationToggle:
		go e.runLoop(runCtx, gkey, s, m)
	default:
		e.runBounded(runCtx, gkey, s, m)
	}
}

// KeyUp handles a G-key release: it stops a running hold_to_repeat loop and
// is a no-op for every other activation kind.
func (e *Engine) KeyUp(gkey int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slots[gkey]; ok && s.activation == ActivationHoldToRepeat {
		e.log.Debug("stopping hold-to-repeat macro", zap.Int("gkey", gkey))
		s.cancel()
	}
}

// Running reports whether the key's slot is occupied.
func (e *Engine) Running(gkey int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.slots[gkey]
	return ok
}

// StopAll cancels every running macro and waits for the loops to unwind.
// Called before a binding table is replaced so no macro outlives the table
// that spawned it.
func (e *Engine) StopAll() {
	e.mu.Lock()
	waiting := make([]*slot, 0, len(e.slots))
	for _, s := range e.slots {
		s.cancel()
		waiting = append(waiting, s)
	}
	e.mu.Unlock()
	for _, s := range waiting {
		<-s.done
	}
}

func (e *Engine) release(gkey int, s *slot) {
	e.mu.Lock()
	delete(e.slots, gkey)
	e.mu.Unlock()
	s.cancel()
	close(s.done)
}

// runBounded executes singular and repeat macros: a fixed number of passes,
// stopping early only when cancelled between steps.
func (e *Engine) runBounded(ctx context.Context, gkey int, s *slot, m Macro) {
	defer e.release(gkey, s)
	for pass := 0; pass < m.Activation.passes(); pass++ {
		for _, step := range m.Steps {
			if ctx.Err() != nil {
				return
			}
			e.runner.run(ctx, step)
		}
	}
}

// runLoop executes hold_to_repeat and toggle macros: the step sequence
// repeats until cancelled, finishing the step in flight before exiting.
func (e *Engine) runLoop(ctx context.Context, gkey int, s *slot, m Macro) {
	defer e.release(gkey, s)
	for {
		for _, step := range m.Steps {
			if ctx.Err() != nil {
				return
			}
			e.runner.run(ctx, step)
		}
		if ctx.Err() != nil || len(m.Steps) == 0 {
			return
		}
	}
}
