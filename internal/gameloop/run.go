package gameloop

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coinmerge/coinmerge/internal/gamelog"
)

// FrameInterval is the default render cadence.
const FrameInterval = time.Second / 60

// ErrFrameLimit is returned by Simulate when the game is still running after
// the frame budget.
var ErrFrameLimit = errors.New("gameloop: frame limit reached before game over")

// Input decides, once per frame, whether to drop and where.
type Input interface {
	Poll(v View) (x float64, drop bool)
}

// InputFunc adapts a function to Input.
type InputFunc func(v View) (float64, bool)

func (f InputFunc) Poll(v View) (float64, bool) { return f(v) }

func frame(s *Session, in Input, r Renderer, elapsed time.Duration) bool {
	if in != nil {
		if x, drop := in.Poll(s.View()); drop {
			s.DropAt(x)
		} else {
			s.SetPointer(x)
		}
	}
	over := s.Tick(elapsed)
	if r != nil {
		s.Render(r)
	}
	return over
}

// Run drives s on a wall-clock ticker until game over or ctx is cancelled.
// The engine is released on every exit path.
func Run(ctx context.Context, s *Session, in Input, r Renderer, interval time.Duration) (*gamelog.GameLog, error) {
	defer s.Close()
	if interval <= 0 {
		interval = FrameInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			if frame(s, in, r, elapsed) {
				return s.Log(), nil
			}
		}
	}
}

// VirtualClock is a manually advanced Clock for headless play.
type VirtualClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewVirtualClock starts a clock at t.
func NewVirtualClock(t time.Time) *VirtualClock {
	return &VirtualClock{t: t}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Simulate plays s as fast as possible, advancing clock by one frame per
// iteration. The session must have been created with clock.
func Simulate(s *Session, clock *VirtualClock, in Input, r Renderer, maxFrames int) (*gamelog.GameLog, error) {
	defer s.Close()
	for i := 0; i < maxFrames; i++ {
		clock.Advance(FrameInterval)
		if frame(s, in, r, FrameInterval) {
			return s.Log(), nil
		}
	}
	return s.Log(), ErrFrameLimit
}

// Autoplay is a simple bot. Every Interval frames it drops the previewed coin
// above a resting coin of the same level when there is one, otherwise at a
// random position.
type Autoplay struct {
	Interval int

	rng   *rand.Rand
	count int
}

// NewAutoplay returns a seeded bot.
func NewAutoplay(interval int, seed uint64) *Autoplay {
	if interval <= 0 {
		interval = 40
	}
	return &Autoplay{Interval: interval, rng: rand.New(rand.NewPCG(seed, seed+1))}
}

func (a *Autoplay) Poll(v View) (float64, bool) {
	a.count++
	if (a.count-1)%a.Interval != 0 {
		return v.PointerX, false
	}
	for _, b := range v.Bodies {
		if b.Level == v.Next {
			return b.X, true
		}
	}
	return a.rng.Float64() * v.Field.Width, true
}
