package simdriver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sandeepkv93/solarsim/bodyintegrator"
)

var (
	ErrNotRunning     = errors.New("simdriver: driver is not running")
	ErrAlreadyRunning = errors.New("simdriver: driver is already running")
	ErrTickPending    = errors.New("simdriver: a tick is already in flight")
	ErrBusy           = errors.New("simdriver: mailbox is full")
)

// TickResult is delivered on the updates channel after each accepted
// tick request. Dt is the clamped step that was actually integrated.
type TickResult struct {
	Updates []bodyintegrator.BodyUpdate
	Dt      float64
	Elapsed time.Duration
}

// Config controls the driver's channel capacities.
type Config struct {
	// ResultBuffer is the capacity of the updates channel. When the
	// consumer falls behind, older results are dropped rather than
	// blocking the simulation.
	ResultBuffer int
}

// DefaultConfig returns a driver config suitable for one animation
// loop consumer.
func DefaultConfig() Config {
	return Config{ResultBuffer: 1}
}

type requestKind int

const (
	initRequest requestKind = iota
	tickRequest
	resetRequest
)

type request struct {
	kind      requestKind
	bodies    []bodyintegrator.Body
	attractor bodyintegrator.Body
	dt        float64
	reply     chan error
}

// Driver serializes access to a single integrator: one goroutine
// drains a mailbox and runs each request to completion, so ticks never
// overlap and the body list needs no locking. At most one tick request
// is queued at a time; extra requests are rejected until the pending
// one completes.
type Driver struct {
	integrator *bodyintegrator.Integrator
	config     Config

	mailbox chan request
	updates chan TickResult

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	pendingMu sync.Mutex
	pending   bool
}

// New creates a stopped driver around the given integrator.
func New(integrator *bodyintegrator.Integrator, config Config) *Driver {
	if config.ResultBuffer <= 0 {
		config.ResultBuffer = 1
	}
	return &Driver{
		integrator: integrator,
		config:     config,
	}
}

// Start launches the mailbox goroutine. The driver stops when ctx is
// cancelled or Stop is called.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mailbox = make(chan request, 4)
	d.updates = make(chan TickResult, d.config.ResultBuffer)
	d.done = make(chan struct{})
	d.running = true
	d.clearPending()

	go d.run(runCtx, d.mailbox, d.done)
	return nil
}

// Stop cancels the mailbox goroutine and waits for it to exit. Safe to
// call more than once.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Driver) run(ctx context.Context, mailbox chan request, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			d.shutdown(mailbox, done)
			return
		case req := <-mailbox:
			d.handle(req)
		}
	}
}

// shutdown flips the running flag and releases every waiter that made
// it into the mailbox before the flag flipped. Submissions are checked
// against the flag under the same mutex, so nothing can be enqueued
// after the drain below.
func (d *Driver) shutdown(mailbox chan request, done chan struct{}) {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	close(done)

	for {
		select {
		case req := <-mailbox:
			if req.reply != nil {
				req.reply <- ErrNotRunning
			}
			if req.kind == tickRequest {
				d.clearPending()
			}
		default:
			return
		}
	}
}

func (d *Driver) handle(req request) {
	switch req.kind {
	case initRequest:
		req.reply <- d.integrator.Initialize(req.bodies, req.attractor)
	case resetRequest:
		d.integrator.Reset()
		req.reply <- nil
	case tickRequest:
		start := time.Now()
		updates := d.integrator.Tick(req.dt)
		d.clearPending()
		if updates == nil {
			return
		}
		result := TickResult{Updates: updates, Dt: req.dt, Elapsed: time.Since(start)}
		// Drop rather than block when the consumer is behind.
		select {
		case d.updates <- result:
		default:
			select {
			case <-d.updates:
			default:
			}
			select {
			case d.updates <- result:
			default:
			}
		}
	}
}

func (d *Driver) clearPending() {
	d.pendingMu.Lock()
	d.pending = false
	d.pendingMu.Unlock()
}

// Init replaces the simulation state and waits for the integrator's
// acknowledgement.
func (d *Driver) Init(bodies []bodyintegrator.Body, attractor bodyintegrator.Body) error {
	return d.submitAndWait(request{kind: initRequest, bodies: bodies, attractor: attractor})
}

// Reset clears the simulation state and waits for completion.
func (d *Driver) Reset() error {
	return d.submitAndWait(request{kind: resetRequest})
}

func (d *Driver) submitAndWait(req request) error {
	req.reply = make(chan error, 1)
	if err := d.submit(req); err != nil {
		return err
	}

	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	select {
	case err := <-req.reply:
		return err
	case <-done:
		return ErrNotRunning
	}
}

// RequestTick asks for one asynchronous integration step. dt is
// clamped to the integrator's MaxTimeStep so a slow frame cannot
// inject an unstable amount of simulated time. Returns ErrTickPending
// when the previous tick has not completed yet; the caller should
// simply try again on its next frame.
func (d *Driver) RequestTick(dt float64) error {
	maxStep := d.integrator.Config().MaxTimeStep
	if maxStep > 0 && dt > maxStep {
		dt = maxStep
	}

	d.pendingMu.Lock()
	if d.pending {
		d.pendingMu.Unlock()
		return ErrTickPending
	}
	d.pending = true
	d.pendingMu.Unlock()

	if err := d.submit(request{kind: tickRequest, dt: dt}); err != nil {
		d.clearPending()
		return err
	}
	return nil
}

func (d *Driver) submit(req request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrNotRunning
	}
	select {
	case d.mailbox <- req:
		return nil
	default:
		return ErrBusy
	}
}

// Updates returns the channel on which tick results are delivered.
// Valid after Start.
func (d *Driver) Updates() <-chan TickResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates
}
