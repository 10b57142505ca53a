package physics

import "time"

const (
	DefaultWidth      = 400.0
	DefaultHeight     = 600.0
	DefaultDangerLine = 100.0

	Gravity          = 900.0 // px/s², y grows downward
	Restitution      = 0.2
	BounceThreshold  = 30.0  // impacts slower than this do not bounce
	WallFriction     = 0.02  // tangential loss per wall contact
	LinearDamping    = 0.998 // per step
	RestSpeed        = 5.0   // px/s of actual displacement, below this a body is still
	RestSteps        = 20    // consecutive still steps before a body counts as resting
	SettleTime       = 1.0   // seconds a new body is exempt from game-over checks
	SolverIterations = 4

	StepDT      = 1.0 / 60.0
	MaxSubsteps = 4
)

// StepDuration is StepDT as a time.Duration.
const StepDuration = time.Second / 60
