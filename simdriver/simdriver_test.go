package simdriver

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/solarsim/bodyintegrator"
)

func testBodies() ([]bodyintegrator.Body, bodyintegrator.Body) {
	bodies := []bodyintegrator.Body{{
		ID:       "p",
		Mass:     1,
		Position: bodyintegrator.Vector3{X: 5},
		Velocity: bodyintegrator.Vector3{Z: -1},
	}}
	return bodies, bodyintegrator.Body{ID: "sun", Mass: 1000}
}

func startedDriver(t *testing.T) *Driver {
	t.Helper()
	d := New(bodyintegrator.New(bodyintegrator.DefaultConfig()), DefaultConfig())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func waitForResult(t *testing.T, d *Driver) TickResult {
	t.Helper()
	select {
	case result := <-d.Updates():
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick result")
		return TickResult{}
	}
}

func TestDriverLifecycle(t *testing.T) {
	d := New(bodyintegrator.New(bodyintegrator.DefaultConfig()), DefaultConfig())

	bodies, attractor := testBodies()
	if err := d.Init(bodies, attractor); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Init before Start: expected ErrNotRunning, got %v", err)
	}
	if err := d.RequestTick(0.01); !errors.Is(err, ErrNotRunning) {
		t.Errorf("RequestTick before Start: expected ErrNotRunning, got %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: expected ErrAlreadyRunning, got %v", err)
	}

	d.Stop()
	d.Stop() // idempotent

	if err := d.RequestTick(0.01); !errors.Is(err, ErrNotRunning) {
		t.Errorf("RequestTick after Stop: expected ErrNotRunning, got %v", err)
	}
}

func TestDriverInitAndTick(t *testing.T) {
	d := startedDriver(t)
	bodies, attractor := testBodies()

	if err := d.Init(bodies, attractor); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := d.RequestTick(0.01); err != nil {
		t.Fatalf("RequestTick failed: %v", err)
	}

	result := waitForResult(t, d)
	if len(result.Updates) != 1 || result.Updates[0].ID != "p" {
		t.Errorf("unexpected updates: %+v", result.Updates)
	}
	if result.Dt != 0.01 {
		t.Errorf("expected dt 0.01, got %f", result.Dt)
	}
}

func TestDriverInitValidationPropagates(t *testing.T) {
	d := startedDriver(t)

	_, attractor := testBodies()
	if err := d.Init(nil, attractor); err == nil {
		t.Error("expected configuration error for empty body list")
	}
}

func TestDriverClampsTimeStep(t *testing.T) {
	d := startedDriver(t)
	bodies, attractor := testBodies()
	if err := d.Init(bodies, attractor); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// One slow frame must not inject more than MaxTimeStep of
	// simulated time.
	if err := d.RequestTick(3.0); err != nil {
		t.Fatalf("RequestTick failed: %v", err)
	}
	result := waitForResult(t, d)

	maxStep := bodyintegrator.DefaultConfig().MaxTimeStep
	if result.Dt != maxStep {
		t.Errorf("expected clamped dt %f, got %f", maxStep, result.Dt)
	}
}

func TestDriverRejectsOverlappingTicks(t *testing.T) {
	d := startedDriver(t)
	bodies, attractor := testBodies()
	if err := d.Init(bodies, attractor); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Fire many concurrent requests; the driver admits one at a time
	// and the rest see ErrTickPending.
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, rejected := 0, 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.RequestTick(0.001)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrTickPending):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted == 0 {
		t.Error("expected at least one accepted tick")
	}
	if accepted+rejected != 32 {
		t.Errorf("accepted %d + rejected %d != 32", accepted, rejected)
	}
}

func TestDriverSerializesTicks(t *testing.T) {
	d := startedDriver(t)
	bodies, attractor := testBodies()
	if err := d.Init(bodies, attractor); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Request ticks one at a time and confirm positions evolve as a
	// strict sequence of steps.
	var last TickResult
	ticks := 0
	for ticks < 50 {
		if err := d.RequestTick(0.01); errors.Is(err, ErrTickPending) {
			continue
		} else if err != nil {
			t.Fatalf("RequestTick failed: %v", err)
		}
		last = waitForResult(t, d)
		ticks++
	}

	// After 50 serialized steps the body has moved; it must still be
	// finite and at a plausible radius.
	radius := last.Updates[0].Position.Magnitude()
	if math.IsNaN(radius) || radius <= 0 || radius > 10 {
		t.Errorf("implausible radius after 50 ticks: %f", radius)
	}
}

func TestDriverSkipsResultForRejectedTick(t *testing.T) {
	d := startedDriver(t)

	// No Init: the integrator silently no-ops, so no result may be
	// delivered and the pending slot must free up again.
	if err := d.RequestTick(0.01); err != nil {
		t.Fatalf("RequestTick failed: %v", err)
	}

	select {
	case result := <-d.Updates():
		t.Errorf("expected no result for a no-op tick, got %+v", result)
	case <-time.After(50 * time.Millisecond):
	}

	deadline := time.Now().Add(time.Second)
	for {
		err := d.RequestTick(0.01)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTickPending) {
			t.Fatalf("unexpected error: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("pending slot never cleared after a no-op tick")
		}
	}
}

func TestDriverReset(t *testing.T) {
	d := startedDriver(t)
	bodies, attractor := testBodies()
	if err := d.Init(bodies, attractor); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if err := d.RequestTick(0.01); err != nil {
		t.Fatalf("RequestTick failed: %v", err)
	}
	select {
	case result := <-d.Updates():
		t.Errorf("expected no result after Reset, got %+v", result)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDriverStopsWithContext(t *testing.T) {
	d := New(bodyintegrator.New(bodyintegrator.DefaultConfig()), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		if err := d.RequestTick(0.01); errors.Is(err, ErrNotRunning) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("driver kept accepting requests after context cancellation")
		}
		time.Sleep(time.Millisecond)
	}
	d.Stop()
}
