package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BTreeMap/AltTutor/internal/flow"
	"github.com/BTreeMap/AltTutor/internal/models"
)

// Dispatcher defaults.
const (
	// DefaultLaneBufferSize is how many events of one user may wait behind the one in progress.
	DefaultLaneBufferSize  = 16
	DefaultLaneIdleTimeout = 5 * time.Minute
)

// EventHandler processes one event; *flow.Controller implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev models.Event) error
}

// lane serialises the events of one user.
type lane struct {
	events  chan models.Event
	pending int // guarded by Dispatcher.mu
}

// Dispatcher reads the events of a Service and runs them through an EventHandler. Events of
// one user are handled in arrival order; different users are handled in parallel.
type Dispatcher struct {
	svc         Service
	handler     EventHandler
	idleTimeout time.Duration
	bufferSize  int

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLaneIdleTimeout sets how long an idle user lane is kept before its goroutine exits.
func WithLaneIdleTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.idleTimeout = d }
}

// WithLaneBufferSize sets how many events a user may queue. Events beyond it are dropped so
// that one flooding user never holds up the others.
func WithLaneBufferSize(n int) DispatcherOption {
	return func(dp *Dispatcher) {
		if n > 0 {
			dp.bufferSize = n
		}
	}
}

// NewDispatcher creates a Dispatcher feeding svc's events to handler.
func NewDispatcher(svc Service, handler EventHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc:         svc,
		handler:     handler,
		idleTimeout: DefaultLaneIdleTimeout,
		bufferSize:  DefaultLaneBufferSize,
		lanes:       make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches events until the events channel closes or ctx is cancelled, then waits for
// in-flight events to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher started")
	defer func() {
		d.closeLanes()
		d.wg.Wait()
		slog.Info("Dispatcher stopped")
	}()
	events := d.svc.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.enqueue(ctx, ev)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, ev models.Event) {
	d.mu.Lock()
	l, ok := d.lanes[ev.UserID]
	if !ok {
		l = &lane{events: make(chan models.Event, d.bufferSize)}
		d.lanes[ev.UserID] = l
		d.wg.Add(1)
		go d.runLane(ctx, ev.UserID, l)
	}
	l.pending++
	d.mu.Unlock()

	select {
	case l.events <- ev:
	default:
		d.mu.Lock()
		l.pending--
		d.mu.Unlock()
		slog.Warn("Dispatcher lane full, dropping event", "userID", ev.UserID, "kind", ev.Kind, "buffer", cap(l.events))
	}
}

func (d *Dispatcher) runLane(ctx context.Context, userID string, l *lane) {
	defer d.wg.Done()
	idle := time.NewTimer(d.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case ev, ok := <-l.events:
			if !ok {
				return
			}
			d.process(ctx, ev)
			d.mu.Lock()
			l.pending--
			d.mu.Unlock()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.idleTimeout)
		case <-idle.C:
			d.mu.Lock()
			if l.pending == 0 && d.lanes[userID] == l {
				delete(d.lanes, userID)
				d.mu.Unlock()
				slog.Debug("Dispatcher lane closed after idle timeout", "userID", userID)
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idleTimeout)
		}
	}
}

func (d *Dispatcher) closeLanes() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for userID, l := range d.lanes {
		close(l.events)
		delete(d.lanes, userID)
	}
}

// process handles one event. A panic is logged and answered with the generic apology.
func (d *Dispatcher) process(ctx context.Context, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher recovered from panic", "userID", ev.UserID, "kind", ev.Kind, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if err := d.svc.SendText(ctx, ev.UserID, flow.MsgApology); err != nil {
				slog.Error("Dispatcher apology send failed", "error", err, "userID", ev.UserID)
			}
		}
	}()
	if err := d.handler.HandleEvent(ctx, ev); err != nil {
		slog.Error("Dispatcher HandleEvent failed", "error", err, "userID", ev.UserID, "kind", ev.Kind)
	}
}
