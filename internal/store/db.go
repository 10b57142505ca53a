package store

import (
	"context"
	"errors"
	"time"

	"github.com/coinmerge/coinmerge/internal/coins"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrLimitReached is returned when a practice day cap or the entry credits are exhausted.
	ErrLimitReached = errors.New("store: attempt limit reached")
	// ErrAlreadySubmitted is returned when a session already has a score.
	ErrAlreadySubmitted = errors.New("store: session already submitted")
	// ErrConflict is returned when a payout for the period is already recorded.
	ErrConflict = errors.New("store: conflict")
)

// DB represents the database interface
type DB interface {
	Close() error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error

	StartSession(ctx context.Context, req SessionStart) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	GrantCredits(ctx context.Context, fid int64, credits int) (int, error)
	Credits(ctx context.Context, fid int64) (int, error)
	PracticeAttempts(ctx context.Context, fid int64, dayID string) (int, error)

	SubmitScore(ctx context.Context, sub ScoreSubmission) (*Entry, error)
	Leaderboard(ctx context.Context, q LeaderboardQuery) ([]Entry, error)
	Rank(ctx context.Context, fid int64, mode, periodID string) (*Entry, error)
	GameLog(ctx context.Context, sessionID string) ([]byte, error)
	PeriodLogs(ctx context.Context, mode, periodID string) ([]ArchivedLog, error)

	ClaimPayout(ctx context.Context, p *Payout) (*Payout, error)
	UpdatePayout(ctx context.Context, p *Payout) error
	GetPayout(ctx context.Context, periodID string) (*Payout, error)

	SetOverlay(ctx context.Context, level int, c coins.Cosmetic) error
	DeleteOverlay(ctx context.Context, level int) error
	LoadOverlay(ctx context.Context) (coins.Overlay, error)
}

// SessionStart asks for a new play session. Practice sessions are limited to
// DailyLimit per DayID; tournament sessions consume one entry credit.
type SessionStart struct {
	ID         string
	FID        int64
	Mode       string
	PeriodID   string
	DayID      string
	DailyLimit int
	CreatedAt  time.Time
}

// Session is a started play session.
type Session struct {
	ID           string     `json:"sessionId"`
	FID          int64      `json:"fid"`
	Mode         string     `json:"mode"`
	PeriodID     string     `json:"periodId"`
	DayID        string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	SubmittedAt  *time.Time `json:"submittedAt,omitempty"`
	Score        *int       `json:"score,omitempty"`
	AttemptsLeft int        `json:"attemptsLeft"`
}

// Submitted reports whether a score was recorded for the session.
func (s *Session) Submitted() bool { return s.SubmittedAt != nil }

// ScoreSubmission is a verified score plus the raw log it was computed from.
type ScoreSubmission struct {
	SessionID    string
	FID          int64
	Mode         string
	PeriodID     string
	Score        int
	MergeCount   int
	HighestLevel int
	LogJSON      []byte
	At           time.Time
}

// Entry is a leaderboard row: the best score of one fid in one mode and period.
type Entry struct {
	Rank         int       `json:"rank"`
	FID          int64     `json:"fid"`
	Score        int       `json:"score"`
	MergeCount   int       `json:"mergeCount"`
	HighestLevel int       `json:"highestLevel"`
	SessionID    string    `json:"sessionId"`
	AchievedAt   time.Time `json:"achievedAt"`
}

// ArchivedLog is a submitted raw log with the score recorded for it.
type ArchivedLog struct {
	SessionID   string
	FID         int64
	Score       int
	LogJSON     []byte
	SubmittedAt time.Time
}

// LeaderboardQuery selects a ranked slice of a period's leaderboard.
type LeaderboardQuery struct {
	Mode     string
	PeriodID string
	Limit    int
	Offset   int
}

// PayoutStatus tracks the distribution of one period's prize pool.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

// Winner is one recipient of a payout. Amount is a USDC decimal string.
type Winner struct {
	Rank    int    `json:"rank"`
	FID     int64  `json:"fid"`
	Address string `json:"address,omitempty"`
	Score   int    `json:"score"`
	Amount  string `json:"amount"`
}

// Payout records the distribution of one period's prize pool.
type Payout struct {
	ID        string       `json:"id"`
	PeriodID  string       `json:"periodId"`
	Status    PayoutStatus `json:"status"`
	Pool      string       `json:"pool"`
	Winners   []Winner     `json:"winners"`
	TxHash    string       `json:"txHash,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
