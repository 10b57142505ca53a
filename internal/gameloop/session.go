// Package gameloop bridges player input to the physics engine and records
// every drop and merge into the session's GameLog.
package gameloop

import (
	"sync"
	"time"

	"github.com/coinmerge/coinmerge/internal/coins"
	"github.com/coinmerge/coinmerge/internal/gamelog"
	"github.com/coinmerge/coinmerge/internal/physics"
)

// State is the session lifecycle state.
type State string

const (
	StatePlaying State = "playing"
	StateOver    State = "over"
	StateClosed  State = "closed"
)

// FinishFunc receives the finalized log once the game is over.
type FinishFunc func(log *gamelog.GameLog)

// Clock supplies event timestamps.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Field    physics.Config
	Roller   *Roller
	Clock    Clock
	Catalog  *coins.Catalog
	Platform coins.Platform
	OnFinish FinishFunc
}

// View is a read-only snapshot handed to input sources and status readers.
type View struct {
	State        State          `json:"state"`
	Next         int            `json:"next"`
	PointerX     float64        `json:"pointerX"`
	Score        int            `json:"score"`
	MergeCount   int            `json:"mergeCount"`
	HighestLevel int            `json:"highestLevel"`
	Field        physics.Config `json:"field"`
	Bodies       []physics.Body `json:"bodies"`
}

// Session is one play-through: a dedicated engine, the next-level preview
// and the growing event log.
type Session struct {
	mu sync.Mutex

	engine   *physics.Engine
	log      *gamelog.GameLog
	roller   *Roller
	clock    Clock
	catalog  *coins.Catalog
	platform coins.Platform
	onFinish FinishFunc

	state    State
	next     int
	pointerX float64
	merges   int
	highest  int
	score    int
}

// NewSession starts a session with a fresh engine. Callers must Close it.
func NewSession(sessionID string, fid int64, mode gamelog.Mode, opts Options) *Session {
	if opts.Roller == nil {
		opts.Roller, _ = NewRoller(DefaultWeights, nil)
	}
	if opts.Clock == nil {
		opts.Clock = wallClock{}
	}
	if opts.Catalog == nil {
		opts.Catalog = coins.Default
	}
	engine := physics.New(opts.Field)
	s := &Session{
		engine:   engine,
		log:      gamelog.New(sessionID, fid, mode, opts.Clock.Now()),
		roller:   opts.Roller,
		clock:    opts.Clock,
		catalog:  opts.Catalog,
		platform: opts.Platform,
		onFinish: opts.OnFinish,
		state:    StatePlaying,
		pointerX: engine.Config().Width / 2,
	}
	s.next = s.roller.Next()
	return s
}

// Next is the level that the next drop will use.
func (s *Session) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// State reports the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetPointer moves the drop guide. x is clamped for the previewed coin.
func (s *Session) SetPointer(x float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointerX = s.engine.ClampX(x, s.next)
}

// Drop commits the previewed coin at the pointer position.
func (s *Session) Drop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked(s.pointerX)
}

// DropAt moves the pointer to x and commits the drop.
func (s *Session) DropAt(x float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked(x)
}

func (s *Session) dropLocked(x float64) bool {
	if s.state != StatePlaying {
		return false
	}
	level := s.next
	x = s.engine.ClampX(x, level)
	s.log.AppendDrop(s.clock.Now(), x, level)
	s.engine.AddCoin(x, level)
	s.next = s.roller.Next()
	s.pointerX = s.engine.ClampX(x, s.next)
	return true
}

// Tick advances the engine by elapsed wall time and records what happened.
// It reports whether this tick ended the game.
func (s *Session) Tick(elapsed time.Duration) bool {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return false
	}
	res := s.engine.Update(elapsed)
	now := s.clock.Now()
	for _, m := range res.Merges {
		s.log.AppendMerge(now, m.FromLevel, m.ToLevel)
		s.merges++
		s.score += coins.ScoreValue(m.ToLevel)
		if m.ToLevel > s.highest {
			s.highest = m.ToLevel
		}
	}
	if !res.GameOver {
		s.mu.Unlock()
		return false
	}

	s.log.Finalize(now, s.merges, s.highest, s.score)
	s.state = StateOver
	finished := s.log
	handler := s.onFinish
	s.mu.Unlock()

	if handler != nil {
		handler(finished)
	}
	return true
}

// Render draws the current frame. The renderer only ever sees copies.
func (s *Session) Render(r Renderer) {
	v := s.View()
	r.Clear()
	r.DrawField(v.Field)
	if v.State == StatePlaying {
		r.DrawGuide(v.PointerX, s.catalog.LookupOrDefault(v.Next, s.platform))
	}
	for _, b := range v.Bodies {
		r.DrawBody(b, s.catalog.LookupOrDefault(b.Level, s.platform))
	}
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		State:        s.state,
		Next:         s.next,
		PointerX:     s.pointerX,
		Score:        s.score,
		MergeCount:   s.merges,
		HighestLevel: s.highest,
		Field:        s.engine.Config(),
		Bodies:       s.engine.Bodies(),
	}
}

// Log returns the session log. It is complete once the state is StateOver.
func (s *Session) Log() *gamelog.GameLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Close releases the engine. A session closed before game over is abandoned
// and its log is never handed off.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePlaying {
		s.state = StateClosed
	}
	s.engine.Destroy()
}
