// Package leaderboard starts play sessions, accepts replay-verified scores and
// ranks the best score of each player per mode and period.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coinmerge/coinmerge/internal/gamelog"
	"github.com/coinmerge/coinmerge/internal/period"
	"github.com/coinmerge/coinmerge/internal/store"
)

var (
	ErrNoAttemptsLeft   = errors.New("leaderboard: no attempts left")
	ErrSessionNotFound  = errors.New("leaderboard: session not found")
	ErrAlreadySubmitted = errors.New("leaderboard: session already submitted")
	ErrInvalidLog       = errors.New("leaderboard: invalid game log")
	ErrSessionMismatch  = errors.New("leaderboard: log does not belong to this player or session")
	ErrNotRanked        = errors.New("leaderboard: no score this period")
)

// RejectedError carries every reason a log was refused. It matches ErrInvalidLog,
// and Cause holds one error per reason.
type RejectedError struct {
	Reasons []string
	Cause   error
}

func reject(res gamelog.ValidationResult) *RejectedError {
	return &RejectedError{Reasons: res.Errors, Cause: res.Err()}
}

func (e *RejectedError) Error() string {
	return "leaderboard: invalid game log: " + strings.Join(e.Reasons, "; ")
}

func (e *RejectedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInvalidLog}
	}
	return []error{ErrInvalidLog, e.Cause}
}

// Config holds the game-balance knobs of the service.
type Config struct {
	PracticeDailyLimit int
	StrictReplay       bool
	Schedule           period.Schedule
	DefaultLimit       int
	MaxLimit           int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		PracticeDailyLimit: 10,
		Schedule:           period.Default,
		DefaultLimit:       50,
		MaxLimit:           100,
	}
}

// Publisher receives accepted scores, e.g. to push them to live clients.
type Publisher interface {
	PublishScore(ev ScoreAccepted)
}

// ScoreAccepted describes a verified score that was stored.
type ScoreAccepted struct {
	FID          int64  `json:"fid"`
	Mode         string `json:"mode"`
	PeriodID     string `json:"periodId"`
	Score        int    `json:"score"`
	Best         int    `json:"best"`
	Rank         int    `json:"rank"`
	HighestLevel int    `json:"highestLevel"`
}

// Result is the response to an accepted submission.
type Result struct {
	Score        int    `json:"score"`
	MergeCount   int    `json:"mergeCount"`
	HighestLevel int    `json:"highestLevel"`
	Best         int    `json:"best"`
	Rank         int    `json:"rank"`
	PeriodID     string `json:"periodId"`
}

// Board is one page of a period's rankings.
type Board struct {
	Mode     string        `json:"mode"`
	PeriodID string        `json:"periodId"`
	Entries  []store.Entry `json:"entries"`
	EndsAt   *time.Time    `json:"endsAt,omitempty"`
}

// Attempts summarizes what a player may still start.
type Attempts struct {
	PracticeLeft int `json:"practiceLeft"`
	Credits      int `json:"credits"`
}

// Service is the leaderboard use-case layer over a store.DB.
type Service struct {
	db  store.DB
	cfg Config
	pub Publisher
	now func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher sets the sink for accepted scores.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates a Service.
func New(db store.DB, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	s := &Service{db: db, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule returns the period schedule in use.
func (s *Service) Schedule() period.Schedule { return s.cfg.Schedule }

// CurrentPeriod returns the id of the running tournament week.
func (s *Service) CurrentPeriod() string {
	return s.cfg.Schedule.WeekID(s.now())
}

// StartSession authorizes a new session for fid, consuming a practice
// attempt or a tournament entry credit.
func (s *Service) StartSession(ctx context.Context, fid int64, mode gamelog.Mode) (*store.Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("leaderboard: unknown mode %q", mode)
	}
	now := s.now()
	sess, err := s.db.StartSession(ctx, store.SessionStart{
		FID:        fid,
		Mode:       string(mode),
		PeriodID:   s.cfg.Schedule.WeekID(now),
		DayID:      period.DayID(now),
		DailyLimit: s.cfg.PracticeDailyLimit,
		CreatedAt:  now,
	})
	if errors.Is(err, store.ErrLimitReached) {
		return nil, ErrNoAttemptsLeft
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Attempts reports fid's remaining practice sessions today and tournament credits.
func (s *Service) Attempts(ctx context.Context, fid int64) (*Attempts, error) {
	used, err := s.db.PracticeAttempts(ctx, fid, period.DayID(s.now()))
	if err != nil {
		return nil, err
	}
	credits, err := s.db.Credits(ctx, fid)
	if err != nil {
		return nil, err
	}
	left := s.cfg.PracticeDailyLimit - used
	if left < 0 {
		left = 0
	}
	return &Attempts{PracticeLeft: left, Credits: credits}, nil
}

// GrantEntries adds paid tournament entries for fid.
func (s *Service) GrantEntries(ctx context.Context, fid int64, credits int) (int, error) {
	if fid <= 0 {
		return 0, fmt.Errorf("leaderboard: invalid fid %d", fid)
	}
	return s.db.GrantCredits(ctx, fid, credits)
}

// Submit verifies log for the authenticated fid and records its score.
// The client's own totals are ignored; the score is recomputed from events.
func (s *Service) Submit(ctx context.Context, fid int64, log *gamelog.GameLog) (*Result, error) {
	if log == nil {
		return nil, reject(gamelog.Validate(nil))
	}
	if log.FID != fid {
		return nil, ErrSessionMismatch
	}

	sess, err := s.db.GetSession(ctx, log.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.FID != fid || sess.Mode != string(log.Mode) {
		return nil, ErrSessionMismatch
	}
	if sess.Submitted() {
		return nil, ErrAlreadySubmitted
	}

	res := gamelog.Validate(log)
	if s.cfg.StrictReplay {
		res.Errors = append(res.Errors, gamelog.CheckCausality(log)...)
		res.Valid = len(res.Errors) == 0
	}
	if !res.Valid {
		return nil, reject(res)
	}

	calc := gamelog.CalculateScore(log)
	raw, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: encode log: %w", err)
	}
	best, err := s.db.SubmitScore(ctx, store.ScoreSubmission{
		SessionID:    sess.ID,
		FID:          fid,
		Mode:         sess.Mode,
		PeriodID:     sess.PeriodID,
		Score:        calc.Score,
		MergeCount:   calc.MergeCount,
		HighestLevel: calc.HighestLevel,
		LogJSON:      raw,
		At:           s.now(),
	})
	switch {
	case errors.Is(err, store.ErrAlreadySubmitted):
		return nil, ErrAlreadySubmitted
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, err
	}

	ranked, err := s.db.Rank(ctx, fid, sess.Mode, sess.PeriodID)
	if err != nil {
		return nil, err
	}
	out := &Result{
		Score:        calc.Score,
		MergeCount:   calc.MergeCount,
		HighestLevel: calc.HighestLevel,
		Best:         best.Score,
		Rank:         ranked.Rank,
		PeriodID:     sess.PeriodID,
	}
	if s.pub != nil {
		s.pub.PublishScore(ScoreAccepted{
			FID:          fid,
			Mode:         sess.Mode,
			PeriodID:     sess.PeriodID,
			Score:        calc.Score,
			Best:         best.Score,
			Rank:         ranked.Rank,
			HighestLevel: calc.HighestLevel,
		})
	}
	return out, nil
}

// Leaderboard returns the top entries of a mode and period. An empty period
// means the current one; limit is clamped to the configured maximum.
func (s *Service) Leaderboard(ctx context.Context, mode gamelog.Mode, periodID string, limit int) (*Board, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("leaderboard: unknown mode %q", mode)
	}
	if periodID == "" {
		periodID = s.CurrentPeriod()
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	entries, err := s.db.Leaderboard(ctx, store.LeaderboardQuery{Mode: string(mode), PeriodID: periodID, Limit: limit})
	if err != nil {
		return nil, err
	}
	board := &Board{Mode: string(mode), PeriodID: periodID, Entries: entries}
	if _, end, err := s.cfg.Schedule.Bounds(periodID); err == nil {
		board.EndsAt = &end
	}
	return board, nil
}

// Me returns fid's standing in the current period.
func (s *Service) Me(ctx context.Context, fid int64, mode gamelog.Mode) (*store.Entry, error) {
	e, err := s.db.Rank(ctx, fid, string(mode), s.CurrentPeriod())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotRanked
	}
	return e, err
}

// Winners returns the top n tournament entries of a period.
func (s *Service) Winners(ctx context.Context, periodID string, n int) ([]store.Entry, error) {
	return s.db.Leaderboard(ctx, store.LeaderboardQuery{Mode: string(gamelog.ModeTournament), PeriodID: periodID, Limit: n})
}
