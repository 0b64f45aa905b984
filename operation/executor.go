package operation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"arduflash/device"
)

// StatusWaiting is the first status of every device-bound run.
const StatusWaiting = "Waiting for bootloader..."

// eventBuffer bounds how far the worker may run ahead of the observer.
// A full buffer blocks the worker; events are never dropped.
const eventBuffer = 64

// State is the executor's position in a run.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateRunning
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Executor runs one operation at a time.
//
// Executor is safe for concurrent use; concurrent Run calls beyond the first
// fail fast with ErrOperationInProgress.
type Executor struct {
	locator Locator
	log     zerolog.Logger

	mu     sync.Mutex
	active bool
	state  State
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for state transitions and discarded events.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// New creates an executor. locator may be nil when only Simple operations or
// RunOn are used.
func New(locator Locator, opts ...Option) *Executor {
	e := &Executor{
		locator: locator,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state. After a run it stays at the terminal state
// until the next run begins.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run executes op and blocks until it reaches a terminal state. Events are
// delivered to obs on the calling goroutine. The returned error is the error
// carried by the terminal event, or ErrOperationInProgress if another run is
// active, in which case obs receives nothing.
func (e *Executor) Run(ctx context.Context, op Operation, obs Observer) error {
	return e.run(ctx, op, obs, func(ctx context.Context) (device.Handle, error) {
		if e.locator == nil {
			return device.Handle{}, errors.New("operation: no device locator configured")
		}
		return e.locator.FindSingle(ctx)
	})
}

// RunOn executes op against an already resolved handle. The device identity
// event is still emitted; the locator is not consulted.
func (e *Executor) RunOn(ctx context.Context, h device.Handle, op DeviceBound, obs Observer) error {
	return e.run(ctx, op, obs, func(context.Context) (device.Handle, error) {
		return h, nil
	})
}

type resolveFunc func(ctx context.Context) (device.Handle, error)

func (e *Executor) run(ctx context.Context, op Operation, obs Observer, resolve resolveFunc) error {
	if op == nil {
		return errors.New("operation: nil operation")
	}
	if obs == nil {
		return errors.New("operation: nil observer")
	}
	if !e.begin() {
		e.log.Warn().Str("mode", op.mode().String()).Msg("run rejected: operation in progress")
		return ErrOperationInProgress
	}
	defer e.end()

	events := make(chan event, eventBuffer)
	rep := &reporter{events: events, log: e.log}

	go func() {
		err := e.execute(ctx, op, rep, resolve)
		rep.finish(err)
	}()

	return e.dispatch(events, obs)
}

func (e *Executor) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return false
	}
	e.active = true
	e.state = StateIdle
	return true
}

func (e *Executor) end() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	e.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("operation state")
}

// execute runs on the worker goroutine. A panic in the operation is turned
// into a PanicError so the run still ends with exactly one outcome.
func (e *Executor) execute(ctx context.Context, op Operation, rep *reporter, resolve resolveFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()

	switch op := op.(type) {
	case Simple:
		e.setState(StateRunning)
		return op(ctx, rep)

	case DeviceBound:
		e.setState(StateResolving)
		rep.Status(StatusWaiting)

		h, err := resolve(ctx)
		if err != nil {
			return err
		}
		rep.device(h.DisplayName())

		conn, err := h.Open()
		if err != nil {
			return err
		}
		defer func() {
			if cerr := conn.Close(); cerr != nil {
				e.log.Warn().Err(cerr).Str("port", h.Port).Msg("closing device connection")
			}
		}()

		e.log.Debug().Str("device", h.DisplayName()).Msg("device connected")
		e.setState(StateRunning)
		return op(ctx, &Device{Handle: h, Conn: conn}, rep)

	default:
		return fmt.Errorf("operation: unsupported operation type %T", op)
	}
}

// dispatch drains events in arrival order until the worker closes the
// channel, then emits the single terminal call.
func (e *Executor) dispatch(events <-chan event, obs Observer) error {
	defer func() {
		if p := recover(); p != nil {
			// let the worker finish and release the device before the
			// observer's panic continues
			for range events {
			}
			panic(p)
		}
	}()

	var guard progressGuard
	var outcome Outcome

	for ev := range events {
		switch ev.kind {
		case eventProgress:
			if !guard.accept(ev.current, ev.total) {
				e.log.Warn().
					Int("current", ev.current).
					Int("total", ev.total).
					Int("last_current", guard.current).
					Int("last_total", guard.total).
					Msg("discarding out-of-order progress")
				continue
			}
			obs.OnProgress(ev.current, ev.total)
		case eventStatus:
			obs.OnStatus(ev.text)
		case eventDevice:
			obs.OnDevice(ev.text)
		case eventOutcome:
			outcome = Outcome{Err: ev.err}
		}
	}

	if outcome.Err != nil {
		e.setState(StateFailed)
		e.log.Error().Err(outcome.Err).Msg("operation failed")
	} else {
		e.setState(StateComplete)
		e.log.Debug().Msg("operation complete")
	}
	obs.OnComplete(outcome)
	return outcome.Err
}

/* ===================== Events ===================== */

type eventKind int

const (
	eventProgress eventKind = iota
	eventStatus
	eventDevice
	eventOutcome
)

func (k eventKind) String() string {
	switch k {
	case eventProgress:
		return "progress"
	case eventStatus:
		return "status"
	case eventDevice:
		return "device"
	case eventOutcome:
		return "outcome"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type event struct {
	kind    eventKind
	current int
	total   int
	text    string
	err     error
}

// reporter is the worker side of the event channel. Once sealed, every call is
// discarded: the terminal event has been queued and nothing may follow it.
type reporter struct {
	mu     sync.Mutex
	sealed bool
	events chan<- event
	log    zerolog.Logger
}

func (r *reporter) Progress(current, total int) {
	r.send(event{kind: eventProgress, current: current, total: total})
}

func (r *reporter) Status(text string) {
	r.send(event{kind: eventStatus, text: text})
}

func (r *reporter) device(identity string) {
	r.send(event{kind: eventDevice, text: identity})
}

func (r *reporter) send(ev event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		r.log.Warn().Stringer("kind", ev.kind).Msg("event after terminal outcome discarded")
		return
	}
	r.events <- ev
}

func (r *reporter) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	r.events <- event{kind: eventOutcome, err: err}
	close(r.events)
}

// progressGuard enforces non-decreasing current and a constant total.
type progressGuard struct {
	seen    bool
	current int
	total   int
}

func (g *progressGuard) accept(current, total int) bool {
	if current < 0 || total < 0 {
		return false
	}
	if total > 0 && current > total {
		return false
	}
	if g.seen && (total != g.total || current < g.current) {
		return false
	}
	g.seen = true
	g.current = current
	g.total = total
	return true
}
