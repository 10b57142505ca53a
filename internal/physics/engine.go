// Package physics runs the headless merge simulation for one game session.
//
// An Engine owns every body in the play field. Callers advance it with Step or
// Update and read what happened from the returned StepResult; the engine never
// calls out to other layers.
package physics

import (
	"math"
	"time"

	"github.com/coinmerge/coinmerge/internal/coins"
)

// Coins at the top of the ladder have nothing to merge into.
const maxMergeLevel = coins.MaxLevel

// Kind tags a body as a coin or a static boundary.
type Kind uint8

const (
	KindCoin Kind = iota
	KindWall
)

// Body is a simulated circle or a static boundary half-plane.
type Body struct {
	ID        int     `json:"id"`
	Kind      Kind    `json:"kind"`
	Level     int     `json:"level"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VX        float64 `json:"vx"`
	VY        float64 `json:"vy"`
	Radius    float64 `json:"radius"`
	CreatedAt float64 `json:"createdAt"` // simulation seconds

	// Boundary plane: inside when nx*x + ny*y + c >= 0.
	nx, ny, c float64

	// Position at the start of the last step and the number of consecutive
	// steps the body has moved slower than RestSpeed.
	prevX, prevY float64
	still        int
}

// Speed returns the magnitude of the body's velocity.
func (b *Body) Speed() float64 {
	return math.Hypot(b.VX, b.VY)
}

// Resting reports whether the body has barely moved for RestSteps steps.
// Velocity alone is not enough: a coin held up by other coins keeps some
// downward velocity that the contact solver cancels every step.
func (b *Body) Resting() bool {
	return b.still >= RestSteps
}

// Config describes the play field.
type Config struct {
	Width      float64
	Height     float64
	DangerLine float64 // y coordinate; a resting body centred above it ends the game
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.DangerLine <= 0 {
		c.DangerLine = DefaultDangerLine
	}
	return c
}

// MergeEvent reports two equal-level coins fused into one of the next level.
type MergeEvent struct {
	FromLevel int     `json:"fromLevel"`
	ToLevel   int     `json:"toLevel"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Removed   [2]int  `json:"removed"`
	Created   int     `json:"created"`
	At        float64 `json:"at"`
}

// StepResult is everything of interest that happened during one advance.
type StepResult struct {
	Merges   []MergeEvent
	GameOver bool
}

// Engine is a single session's simulation. It is not safe for concurrent use.
type Engine struct {
	cfg       Config
	bodies    []*Body
	walls     []*Body
	nextID    int
	now       float64
	acc       float64
	gameOver  bool
	destroyed bool
}

// New creates an engine with floor and side walls in place.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{cfg: cfg}
	e.walls = []*Body{
		e.newWall(1, 0, 0),           // left, x >= 0
		e.newWall(-1, 0, cfg.Width),  // right, x <= width
		e.newWall(0, -1, cfg.Height), // floor, y <= height
	}
	return e
}

func (e *Engine) newWall(nx, ny, c float64) *Body {
	e.nextID++
	return &Body{ID: e.nextID, Kind: KindWall, nx: nx, ny: ny, c: c}
}

// Config returns the effective play-field configuration.
func (e *Engine) Config() Config { return e.cfg }

// Now returns elapsed simulation time in seconds.
func (e *Engine) Now() float64 { return e.now }

// GameOver reports whether the game-over condition has fired.
func (e *Engine) GameOver() bool { return e.gameOver }

// Destroyed reports whether Destroy has been called.
func (e *Engine) Destroyed() bool { return e.destroyed }

// AddCoin drops a coin of level at horizontal offset x from the top of the field.
// x is clamped so the whole circle is inside the walls. Calls after game over,
// after Destroy, or with an unknown level are ignored.
func (e *Engine) AddCoin(x float64, level int) {
	if e.destroyed || e.gameOver {
		return
	}
	if _, ok := coins.Lookup(level, coins.PlatformDefault); !ok {
		return
	}
	r := coins.Radius(level)
	e.spawn(e.ClampX(x, level), r, level)
}

// ClampX returns x limited to [radius, width-radius] for a coin of level.
func (e *Engine) ClampX(x float64, level int) float64 {
	r := coins.Radius(level)
	if math.IsNaN(x) {
		return e.cfg.Width / 2
	}
	return math.Max(r, math.Min(e.cfg.Width-r, x))
}

func (e *Engine) spawn(x, y float64, level int) *Body {
	e.nextID++
	b := &Body{
		ID:        e.nextID,
		Kind:      KindCoin,
		Level:     level,
		X:         x,
		Y:         y,
		prevX:     x,
		prevY:     y,
		Radius:    coins.Radius(level),
		CreatedAt: e.now,
	}
	e.bodies = append(e.bodies, b)
	return b
}

// Bodies returns a copy of every live coin, in creation order.
func (e *Engine) Bodies() []Body {
	out := make([]Body, len(e.bodies))
	for i, b := range e.bodies {
		out[i] = *b
	}
	return out
}

// Update advances the simulation by elapsed wall time using fixed steps.
// At most MaxSubsteps steps run per call; leftover time carries over.
func (e *Engine) Update(elapsed time.Duration) StepResult {
	var res StepResult
	if e.destroyed || e.gameOver {
		return res
	}
	e.acc += elapsed.Seconds()
	if limit := StepDT * MaxSubsteps; e.acc > limit {
		e.acc = limit
	}
	for e.acc+1e-9 >= StepDT && !e.gameOver {
		e.acc -= StepDT
		r := e.Step()
		res.Merges = append(res.Merges, r.Merges...)
		res.GameOver = res.GameOver || r.GameOver
	}
	return res
}

// Step advances the simulation by one fixed step.
func (e *Engine) Step() StepResult {
	var res StepResult
	if e.destroyed || e.gameOver {
		return res
	}
	dt := StepDT
	e.now += dt

	for _, b := range e.bodies {
		b.prevX, b.prevY = b.X, b.Y
		b.VY += Gravity * dt
		b.VX *= LinearDamping
		b.VY *= LinearDamping
		b.X += b.VX * dt
		b.Y += b.VY * dt
	}

	var pending *contact
	for i := 0; i < SolverIterations; i++ {
		contacts := e.detect()
		if i == 0 {
			for k := range contacts {
				if contacts[k].mergeable() {
					pending = &contacts[k]
					break
				}
			}
		}
		for k := range contacts {
			contacts[k].resolve()
		}
	}

	for _, b := range e.bodies {
		if math.Hypot(b.X-b.prevX, b.Y-b.prevY)/dt < RestSpeed {
			b.still++
		} else {
			b.still = 0
		}
	}

	// One merge per pass; chained merges resolve on later steps.
	if pending != nil {
		res.Merges = append(res.Merges, e.merge(pending.a, pending.b))
	}

	if e.checkGameOver() {
		e.gameOver = true
		res.GameOver = true
	}
	return res
}

func (e *Engine) merge(a, b *Body) MergeEvent {
	from := a.Level
	mx := (a.X + b.X) / 2
	my := (a.Y + b.Y) / 2
	e.remove(a.ID, b.ID)
	nb := e.spawn(mx, my, from+1)
	nb.VX = (a.VX + b.VX) / 2
	nb.VY = (a.VY + b.VY) / 2
	e.keepInside(nb)
	return MergeEvent{
		FromLevel: from,
		ToLevel:   from + 1,
		X:         nb.X,
		Y:         nb.Y,
		Removed:   [2]int{a.ID, b.ID},
		Created:   nb.ID,
		At:        e.now,
	}
}

func (e *Engine) remove(ids ...int) {
	kept := e.bodies[:0]
	for _, b := range e.bodies {
		drop := false
		for _, id := range ids {
			if b.ID == id {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, b)
		}
	}
	for i := len(kept); i < len(e.bodies); i++ {
		e.bodies[i] = nil
	}
	e.bodies = kept
}

// keepInside pushes a freshly merged body out of the walls.
func (e *Engine) keepInside(b *Body) {
	b.X = math.Max(b.Radius, math.Min(e.cfg.Width-b.Radius, b.X))
	if b.Y > e.cfg.Height-b.Radius {
		b.Y = e.cfg.Height - b.Radius
	}
}

// checkGameOver fires for a settled coin resting above the danger line, or
// for any settled coin pushed out through the top of the field.
func (e *Engine) checkGameOver() bool {
	for _, b := range e.bodies {
		if e.now-b.CreatedAt < SettleTime {
			continue
		}
		if b.Y < 0 {
			return true
		}
		if b.Resting() && b.Y < e.cfg.DangerLine {
			return true
		}
	}
	return false
}

// Destroy stops the simulation and drops every body. Safe to call more than once.
func (e *Engine) Destroy() {
	if e.destroyed {
		return
	}
	e.destroyed = true
	for i := range e.bodies {
		e.bodies[i] = nil
	}
	e.bodies = nil
	e.walls = nil
}
