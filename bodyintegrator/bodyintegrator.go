package bodyintegrator

import (
	"fmt"
	"math"
)

// AttractionMode defines how gravitational forces are accumulated
type AttractionMode int

const (
	// SunOnly attracts every body toward the fixed attractor and
	// nothing else. This is the default mode.
	SunOnly AttractionMode = iota
	// AllPairs additionally sums forces over all unordered body pairs.
	AllPairs
)

// Vector3 is an immutable 3D vector. All operations return new values.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) Add(other Vector3) Vector3 {
	return Vector3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

func (v Vector3) Sub(other Vector3) Vector3 {
	return Vector3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

func (v Vector3) Mul(scalar float64) Vector3 {
	return Vector3{v.X * scalar, v.Y * scalar, v.Z * scalar}
}

func (v Vector3) Div(scalar float64) Vector3 {
	return Vector3{v.X / scalar, v.Y / scalar, v.Z / scalar}
}

func (v Vector3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func (v Vector3) MagnitudeSq() float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Normalize returns the unit vector, or the zero vector when the
// magnitude is zero. A body exactly coincident with the attractor must
// not produce NaN.
func (v Vector3) Normalize() Vector3 {
	mag := v.Magnitude()
	if mag == 0 {
		return Vector3{}
	}
	return v.Div(mag)
}

func (v Vector3) Dot(other Vector3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vector3) Distance(other Vector3) float64 {
	return v.Sub(other).Magnitude()
}

func (v Vector3) DistanceSq(other Vector3) float64 {
	return v.Sub(other).MagnitudeSq()
}

// Body is a movable point mass. Force is a transient per-tick
// accumulator owned by the integrator while a tick is running.
type Body struct {
	ID       string  `json:"id"`
	Mass     float64 `json:"mass"`
	Position Vector3 `json:"position"`
	Velocity Vector3 `json:"velocity"`
	Force    Vector3 `json:"-"`
}

// KineticEnergy returns 0.5 * m * |v|^2.
func (b Body) KineticEnergy() float64 {
	return 0.5 * b.Mass * b.Velocity.MagnitudeSq()
}

// BodyUpdate is the per-body result of one tick. Mass is omitted
// because it never changes.
type BodyUpdate struct {
	ID       string  `json:"id"`
	Position Vector3 `json:"position"`
	Velocity Vector3 `json:"velocity"`
}

// Config holds the simulation constants. G must match whatever seeded
// the bodies' initial tangential velocities or orbits will not close.
// DistanceFloor is a floor on the squared distance used in the force
// law, a stability clamp rather than a physical distance.
type Config struct {
	G                    float64
	DistanceFloor        float64
	RepulsionThresholdSq float64
	RepulsionStrength    float64
	MaxTimeStep          float64
	Mode                 AttractionMode
	RepulsionEnabled     bool
}

// DefaultConfig returns the constants used by the solar-system
// visualization: Sun-only attraction, no repulsion.
func DefaultConfig() Config {
	return Config{
		G:                    0.1,
		DistanceFloor:        0.1,
		RepulsionThresholdSq: 2.25,
		RepulsionStrength:    0.05,
		MaxTimeStep:          0.05,
		Mode:                 SunOnly,
		RepulsionEnabled:     false,
	}
}

// Statistics summarizes the current kinematic state of the system.
type Statistics struct {
	CenterOfMass  Vector3
	TotalMomentum Vector3
	MaxSpeed      float64
	KineticEnergy float64
}

// Integrator advances a set of bodies under the gravity of a fixed
// attractor using semi-implicit Euler steps. It is a single-writer
// object: callers must serialize Initialize and Tick (see simdriver).
type Integrator struct {
	config      Config
	bodies      []Body
	attractor   Body
	initialized bool
	tickCount   uint64
}

// New creates an integrator in the uninitialized state. A non-positive
// DistanceFloor is replaced with the default floor: without one, a
// body coincident with the attractor would divide by zero in the force
// law, and there is no meaningful simulation to configure that way.
func New(config Config) *Integrator {
	if config.DistanceFloor <= 0 {
		config.DistanceFloor = DefaultConfig().DistanceFloor
	}
	return &Integrator{config: config}
}

// Config returns the constants the integrator was built with.
func (it *Integrator) Config() Config {
	return it.config
}

// validMass reports whether a mass is a positive finite number. NaN
// and Inf must be rejected here: a single bad mass turns every later
// tick into NaN kinematics.
func validMass(mass float64) bool {
	return mass > 0 && !math.IsInf(mass, 0)
}

// Initialize replaces any existing simulation state with the given
// movable bodies and attractor. The input slice is copied; force
// accumulators are zeroed.
func (it *Integrator) Initialize(bodies []Body, attractor Body) error {
	if len(bodies) == 0 {
		return fmt.Errorf("bodyintegrator: initialize requires at least one body")
	}
	if !validMass(attractor.Mass) {
		return fmt.Errorf("bodyintegrator: attractor %q has invalid mass %v", attractor.ID, attractor.Mass)
	}
	seen := make(map[string]bool, len(bodies))
	for _, b := range bodies {
		if !validMass(b.Mass) {
			return fmt.Errorf("bodyintegrator: body %q has invalid mass %v", b.ID, b.Mass)
		}
		if b.ID == attractor.ID {
			return fmt.Errorf("bodyintegrator: body %q shares its id with the attractor", b.ID)
		}
		if seen[b.ID] {
			return fmt.Errorf("bodyintegrator: duplicate body id %q", b.ID)
		}
		seen[b.ID] = true
	}

	it.bodies = make([]Body, len(bodies))
	copy(it.bodies, bodies)
	for i := range it.bodies {
		it.bodies[i].Force = Vector3{}
	}
	it.attractor = attractor
	it.attractor.Force = Vector3{}
	it.initialized = true
	it.tickCount = 0
	return nil
}

// Reset returns the integrator to the uninitialized state.
func (it *Integrator) Reset() {
	it.bodies = nil
	it.attractor = Body{}
	it.initialized = false
	it.tickCount = 0
}

// Initialized reports whether Initialize has succeeded since the last
// Reset.
func (it *Integrator) Initialized() bool {
	return it.initialized
}

// TickCount returns the number of completed ticks since Initialize.
func (it *Integrator) TickCount() uint64 {
	return it.tickCount
}

// Tick advances every body by dt seconds and returns the updated
// kinematics in initialization order. It returns nil without touching
// state when the integrator is uninitialized or dt is not a positive
// finite number; the driver is expected to retry on the next frame.
func (it *Integrator) Tick(dt float64) []BodyUpdate {
	if !it.initialized || len(it.bodies) == 0 {
		return nil
	}
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil
	}

	for i := range it.bodies {
		it.bodies[i].Force = Vector3{}
	}

	switch it.config.Mode {
	case AllPairs:
		it.accumulateAllPairs()
	default:
		it.accumulateSunOnly()
	}

	updates := make([]BodyUpdate, len(it.bodies))
	for i := range it.bodies {
		b := &it.bodies[i]
		acceleration := b.Force.Div(b.Mass)
		// Semi-implicit Euler: velocity first, then position from the
		// new velocity. The ordering matters for orbit stability.
		b.Velocity = b.Velocity.Add(acceleration.Mul(dt))
		b.Position = b.Position.Add(b.Velocity.Mul(dt))
		updates[i] = BodyUpdate{ID: b.ID, Position: b.Position, Velocity: b.Velocity}
	}
	it.tickCount++
	return updates
}

// accumulateSunOnly pulls every body toward the attractor
// independently. No body exerts force on another body.
func (it *Integrator) accumulateSunOnly() {
	for i := range it.bodies {
		it.applyAttraction(&it.bodies[i])
	}
}

// accumulateAllPairs sums the attractor pull plus equal-and-opposite
// forces over all unordered body pairs. The attractor still never
// moves; any force accumulated on it is discarded.
func (it *Integrator) accumulateAllPairs() {
	for i := range it.bodies {
		it.applyAttraction(&it.bodies[i])
	}
	for i := 0; i < len(it.bodies); i++ {
		for j := i + 1; j < len(it.bodies); j++ {
			it.applyPairForce(&it.bodies[i], &it.bodies[j])
		}
	}
}

// applyAttraction accumulates the attractor's gravity on b, with the
// squared distance floored to keep the force finite at close range,
// plus the optional short-range repulsion term.
func (it *Integrator) applyAttraction(b *Body) {
	toAttractor := it.attractor.Position.Sub(b.Position)
	trueDistSq := toAttractor.MagnitudeSq()
	distSq := math.Max(trueDistSq, it.config.DistanceFloor)

	direction := toAttractor.Normalize()
	gravity := it.config.G * it.attractor.Mass * b.Mass / distSq
	b.Force = b.Force.Add(direction.Mul(gravity))

	// Short-range repulsion keeps close bodies from spiraling into the
	// attractor. The threshold compares against the true squared
	// distance, the magnitude against the floored one.
	if it.config.RepulsionEnabled && trueDistSq < it.config.RepulsionThresholdSq {
		repulsion := it.config.RepulsionStrength * b.Mass * (it.config.RepulsionThresholdSq / distSq)
		b.Force = b.Force.Sub(direction.Mul(repulsion))
	}
}

func (it *Integrator) applyPairForce(b1, b2 *Body) {
	r := b2.Position.Sub(b1.Position)
	distSq := math.Max(r.MagnitudeSq(), it.config.DistanceFloor)

	magnitude := it.config.G * b1.Mass * b2.Mass / distSq
	force := r.Normalize().Mul(magnitude)

	b1.Force = b1.Force.Add(force)
	b2.Force = b2.Force.Sub(force)
}

// Bodies returns a copy of the current body list in initialization
// order.
func (it *Integrator) Bodies() []Body {
	bodies := make([]Body, len(it.bodies))
	copy(bodies, it.bodies)
	return bodies
}

// Attractor returns the fixed attractor and whether one is set.
func (it *Integrator) Attractor() (Body, bool) {
	return it.attractor, it.initialized
}

// TotalEnergy returns kinetic plus pairwise gravitational potential
// energy, including each body's potential against the attractor.
func (it *Integrator) TotalEnergy() float64 {
	kinetic := 0.0
	potential := 0.0

	for i := range it.bodies {
		kinetic += it.bodies[i].KineticEnergy()

		distance := it.bodies[i].Position.Distance(it.attractor.Position)
		if distance > 0 {
			potential -= it.config.G * it.bodies[i].Mass * it.attractor.Mass / distance
		}
	}

	if it.config.Mode == AllPairs {
		for i := 0; i < len(it.bodies); i++ {
			for j := i + 1; j < len(it.bodies); j++ {
				distance := it.bodies[i].Position.Distance(it.bodies[j].Position)
				if distance > 0 {
					potential -= it.config.G * it.bodies[i].Mass * it.bodies[j].Mass / distance
				}
			}
		}
	}

	return kinetic + potential
}

// Stats computes aggregate kinematics over the current body list.
func (it *Integrator) Stats() Statistics {
	var stats Statistics
	if len(it.bodies) == 0 {
		return stats
	}

	totalMass := 0.0
	for i := range it.bodies {
		b := &it.bodies[i]
		totalMass += b.Mass
		stats.KineticEnergy += b.KineticEnergy()
		stats.CenterOfMass = stats.CenterOfMass.Add(b.Position.Mul(b.Mass))
		stats.TotalMomentum = stats.TotalMomentum.Add(b.Velocity.Mul(b.Mass))

		speed := b.Velocity.Magnitude()
		if speed > stats.MaxSpeed {
			stats.MaxSpeed = speed
		}
	}
	if totalMass > 0 {
		stats.CenterOfMass = stats.CenterOfMass.Div(totalMass)
	}
	return stats
}
