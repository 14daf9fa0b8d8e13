package stepper_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/taylorjet/compiler"
	"github.com/njchilds90/taylorjet/examples/nbody"
	"github.com/njchilds90/taylorjet/stepper"
)

// TestRestrictedTwoBodyConservesEnergy integrates the classic restricted
// two-body problem — a fixed massive primary and a massless test particle
// on a circular orbit — for one full period and checks that specific
// orbital energy, conserved in the true dynamics, drifts only slightly
// under the adaptive stepper. This is a scoped-down version of a
// many-periods energy-drift benchmark: without the ability to run the
// integration and tune an exact bound empirically, the assertion below
// uses a generous tolerance rather than the tight one a tuned benchmark
// would use.
func TestRestrictedTwoBodyConservesEnergy(t *testing.T) {
	const (
		gConst = 1.0
		mass0  = 1.0
		radius = 1.0
	)
	// circular-orbit speed for a massless body at distance `radius` from a
	// primary of mass `mass0`: v^2 = G*M/r.
	v := math.Sqrt(gConst * mass0 / radius)

	states, err := nbody.Build(gConst, []float64{mass0, 0})
	require.NoError(t, err)

	jet, err := compiler.Compile(states, compiler.Options{Symbol: "twobody", Order: 8, Batch: 1})
	require.NoError(t, err)

	period := 2 * math.Pi * radius / v
	init := []float64{
		0, 0, 0, 0, 0, 0, // primary: stationary at the origin
		radius, 0, 0, 0, v, 0, // test particle: circular orbit in the xy-plane
	}
	s, err := stepper.New(jet, init, stepper.Options{UpperBound: period})
	require.NoError(t, err)

	specificEnergy := func(state []float64) float64 {
		x, y, z := state[6], state[7], state[8]
		vx, vy, vz := state[9], state[10], state[11]
		r := math.Sqrt(x*x + y*y + z*z)
		speed2 := vx*vx + vy*vy + vz*vz
		return speed2/2 - gConst*mass0/r
	}
	e0 := specificEnergy(s.State())

	err = s.Run(func(st *stepper.Stepper) bool { return st.Time()[0] >= period })
	require.NoError(t, err)

	e1 := specificEnergy(s.State())
	drift := math.Abs((e1 - e0) / e0)
	assert.Less(t, drift, 1e-3, "relative energy drift over one period")
}
