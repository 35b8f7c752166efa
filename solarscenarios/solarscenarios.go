package solarscenarios

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sandeepkv93/solarsim/bodyintegrator"
)

// Scenario is a ready-to-simulate set of bodies plus their attractor.
type Scenario struct {
	Name      string
	Attractor bodyintegrator.Body
	Bodies    []bodyintegrator.Body
}

// SunMass is the attractor mass used by the built-in scenarios, in
// visualization units.
const SunMass = 1000.0

// CircularOrbitSpeed returns the tangential speed that closes a
// circular orbit of the given radius around attractorMass. It must use
// the same G the integrator ticks with, or seeded orbits drift.
func CircularOrbitSpeed(cfg bodyintegrator.Config, attractorMass, radius float64) float64 {
	if radius <= 0 {
		return 0
	}
	return math.Sqrt(cfg.G * attractorMass / radius)
}

// orbitVelocity returns the seeded velocity for a body at position,
// tangential within the orbital (XZ) plane.
func orbitVelocity(cfg bodyintegrator.Config, attractorMass float64, position bodyintegrator.Vector3) bodyintegrator.Vector3 {
	radius := position.Magnitude()
	speed := CircularOrbitSpeed(cfg, attractorMass, radius)
	if radius == 0 {
		return bodyintegrator.Vector3{}
	}
	return bodyintegrator.Vector3{
		X: position.Z / radius * speed,
		Y: 0,
		Z: -position.X / radius * speed,
	}
}

// planetSpec carries the miniature visualization-scale parameters for
// one planet. Radii and masses are display units, not AU or kg.
type planetSpec struct {
	name   string
	mass   float64
	radius float64
}

var planets = []planetSpec{
	{"mercury", 0.5, 4},
	{"venus", 1.2, 6},
	{"earth", 1.3, 8},
	{"mars", 0.8, 11},
	{"jupiter", 8.0, 16},
	{"saturn", 6.5, 21},
	{"uranus", 3.0, 26},
	{"neptune", 3.0, 31},
}

// SolarSystem builds the eight planets on seeded circular orbits around
// a fixed sun, using cfg.G for the seeding.
func SolarSystem(cfg bodyintegrator.Config) Scenario {
	bodies := make([]bodyintegrator.Body, len(planets))
	for i, p := range planets {
		position := bodyintegrator.Vector3{X: p.radius}
		bodies[i] = bodyintegrator.Body{
			ID:       p.name,
			Mass:     p.mass,
			Position: position,
			Velocity: orbitVelocity(cfg, SunMass, position),
		}
	}
	return Scenario{
		Name:      "solar-system",
		Attractor: bodyintegrator.Body{ID: "sun", Mass: SunMass},
		Bodies:    bodies,
	}
}

// AsteroidBelt builds a randomized ring of small bodies on seeded
// near-circular orbits. It is intended to run with repulsion enabled so
// asteroids scattered close to the sun do not spiral in.
func AsteroidBelt(cfg bodyintegrator.Config, count int, innerRadius, outerRadius float64) Scenario {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return AsteroidBeltWithRand(cfg, rng, count, innerRadius, outerRadius)
}

// AsteroidBeltWithRand is AsteroidBelt with a caller-supplied source,
// for reproducible tests.
func AsteroidBeltWithRand(cfg bodyintegrator.Config, rng *rand.Rand, count int, innerRadius, outerRadius float64) Scenario {
	bodies := make([]bodyintegrator.Body, count)
	for i := 0; i < count; i++ {
		angle := rng.Float64() * 2 * math.Pi
		radius := innerRadius + rng.Float64()*(outerRadius-innerRadius)
		position := bodyintegrator.Vector3{
			X: radius * math.Cos(angle),
			Y: (rng.Float64() - 0.5) * 0.5,
			Z: radius * math.Sin(angle),
		}
		bodies[i] = bodyintegrator.Body{
			ID:       fmt.Sprintf("asteroid-%d", i),
			Mass:     0.01 + rng.Float64()*0.04,
			Position: position,
			Velocity: orbitVelocity(cfg, SunMass, position),
		}
	}
	return Scenario{
		Name:      "asteroid-belt",
		Attractor: bodyintegrator.Body{ID: "sun", Mass: SunMass},
		Bodies:    bodies,
	}
}

// BinaryPair builds two equal masses orbiting their common center.
// Meaningful only in AllPairs mode; the nominal attractor is a
// negligible mass far outside the system.
func BinaryPair(cfg bodyintegrator.Config) Scenario {
	mass := 100.0
	separation := 10.0
	// Each star circles the barycenter at half the separation, so the
	// closing speed is sqrt(G*m/(2d)).
	speed := math.Sqrt(cfg.G * mass / (2 * separation))

	return Scenario{
		Name:      "binary-pair",
		Attractor: bodyintegrator.Body{ID: "barycenter", Mass: 1e-9, Position: bodyintegrator.Vector3{Y: 1e6}},
		Bodies: []bodyintegrator.Body{
			{
				ID:       "star-a",
				Mass:     mass,
				Position: bodyintegrator.Vector3{X: -separation / 2},
				Velocity: bodyintegrator.Vector3{Z: -speed},
			},
			{
				ID:       "star-b",
				Mass:     mass,
				Position: bodyintegrator.Vector3{X: separation / 2},
				Velocity: bodyintegrator.Vector3{Z: speed},
			},
		},
	}
}

// ByName returns a built-in scenario by its wire name.
func ByName(cfg bodyintegrator.Config, name string) (Scenario, error) {
	switch name {
	case "solar-system":
		return SolarSystem(cfg), nil
	case "asteroid-belt":
		return AsteroidBelt(cfg, 64, 12, 18), nil
	case "binary-pair":
		return BinaryPair(cfg), nil
	default:
		return Scenario{}, fmt.Errorf("solarscenarios: unknown scenario %q", name)
	}
}
