package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/coinmerge/coinmerge/internal/coins"
)

// sqlDB holds the queries shared by the SQLite and Postgres backends. Both
// dialects understand ON CONFLICT upserts and RETURNING; only the
// placeholder style differs.
type sqlDB struct {
	db      *sql.DB
	dialect string
}

func (s *sqlDB) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return rebind(query)
}

// rebind converts ? placeholders to $1, $2, ...
func rebind(query string) string {
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Close closes the database connection
func (s *sqlDB) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *sqlDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlDB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err = fn(tx); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// StartSession consumes one attempt and records the session in a single transaction.
func (s *sqlDB) StartSession(ctx context.Context, req SessionStart) (*Session, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	sess := &Session{
		ID:        req.ID,
		FID:       req.FID,
		Mode:      req.Mode,
		PeriodID:  req.PeriodID,
		DayID:     req.DayID,
		CreatedAt: fromMillis(millis(req.CreatedAt)),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		switch req.Mode {
		case "practice":
			if req.DailyLimit <= 0 {
				return ErrLimitReached
			}
			var used int
			err := tx.QueryRowContext(ctx, s.q(`
				INSERT INTO daily_attempts (fid, day_id, attempts) VALUES (?, ?, 1)
				ON CONFLICT (fid, day_id) DO UPDATE SET attempts = daily_attempts.attempts + 1
				WHERE daily_attempts.attempts < ?
				RETURNING attempts`), req.FID, req.DayID, req.DailyLimit).Scan(&used)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrLimitReached
			}
			if err != nil {
				return fmt.Errorf("store: count attempt: %w", err)
			}
			sess.AttemptsLeft = req.DailyLimit - used
		case "tournament":
			var left int
			err := tx.QueryRowContext(ctx, s.q(`
				UPDATE entry_credits SET credits = credits - 1, updated_at = ?
				WHERE fid = ? AND credits > 0
				RETURNING credits`), millis(req.CreatedAt), req.FID).Scan(&left)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrLimitReached
			}
			if err != nil {
				return fmt.Errorf("store: consume credit: %w", err)
			}
			sess.AttemptsLeft = left
		default:
			return fmt.Errorf("store: unknown mode %q", req.Mode)
		}

		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO sessions (id, fid, mode, period_id, day_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			sess.ID, sess.FID, sess.Mode, sess.PeriodID, sess.DayID, millis(sess.CreatedAt))
		if err != nil {
			return fmt.Errorf("store: insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession loads a session by id.
func (s *sqlDB) GetSession(ctx context.Context, id string) (*Session, error) {
	var (
		sess      Session
		created   int64
		submitted sql.NullInt64
		score     sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, fid, mode, period_id, day_id, created_at, submitted_at, score
		FROM sessions WHERE id = ?`), id).
		Scan(&sess.ID, &sess.FID, &sess.Mode, &sess.PeriodID, &sess.DayID, &created, &submitted, &score)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	sess.CreatedAt = fromMillis(created)
	if submitted.Valid {
		t := fromMillis(submitted.Int64)
		sess.SubmittedAt = &t
	}
	if score.Valid {
		v := int(score.Int64)
		sess.Score = &v
	}
	return &sess, nil
}

// GrantCredits adds tournament entry credits and returns the new balance.
func (s *sqlDB) GrantCredits(ctx context.Context, fid int64, credits int) (int, error) {
	if credits <= 0 {
		return 0, fmt.Errorf("store: credits must be positive, got %d", credits)
	}
	var total int
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO entry_credits (fid, credits, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (fid) DO UPDATE SET credits = entry_credits.credits + excluded.credits,
			updated_at = excluded.updated_at
		RETURNING credits`), fid, credits, millis(time.Now())).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: grant credits: %w", err)
	}
	return total, nil
}

// Credits returns the remaining tournament entry credits of fid.
func (s *sqlDB) Credits(ctx context.Context, fid int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT credits FROM entry_credits WHERE fid = ?`), fid).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: credits: %w", err)
	}
	return n, nil
}

// PracticeAttempts returns how many practice sessions fid started on dayID.
func (s *sqlDB) PracticeAttempts(ctx context.Context, fid int64, dayID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT attempts FROM daily_attempts WHERE fid = ? AND day_id = ?`), fid, dayID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: practice attempts: %w", err)
	}
	return n, nil
}

// SubmitScore marks the session submitted, archives the log and keeps the
// best score per (fid, mode, period). It returns the resulting best entry
// without a rank.
func (s *sqlDB) SubmitScore(ctx context.Context, sub ScoreSubmission) (*Entry, error) {
	if sub.At.IsZero() {
		sub.At = time.Now()
	}
	at := millis(sub.At)
	var best Entry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE sessions SET submitted_at = ?, score = ?
			WHERE id = ? AND submitted_at IS NULL`), at, sub.Score, sub.SessionID)
		if err != nil {
			return fmt.Errorf("store: mark submitted: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM sessions WHERE id = ?`), sub.SessionID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("store: check session: %w", err)
			}
			return ErrAlreadySubmitted
		}

		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO game_logs (session_id, fid, mode, period_id, score, log_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			sub.SessionID, sub.FID, sub.Mode, sub.PeriodID, sub.Score, string(sub.LogJSON), at); err != nil {
			return fmt.Errorf("store: archive log: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO scores (fid, mode, period_id, score, merge_count, highest_level, session_id, achieved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (fid, mode, period_id) DO UPDATE SET
				score = excluded.score,
				merge_count = excluded.merge_count,
				highest_level = excluded.highest_level,
				session_id = excluded.session_id,
				achieved_at = excluded.achieved_at
			WHERE excluded.score > scores.score`),
			sub.FID, sub.Mode, sub.PeriodID, sub.Score, sub.MergeCount, sub.HighestLevel, sub.SessionID, at); err != nil {
			return fmt.Errorf("store: upsert best: %w", err)
		}

		var achieved int64
		err = tx.QueryRowContext(ctx, s.q(`
			SELECT fid, score, merge_count, highest_level, session_id, achieved_at
			FROM scores WHERE fid = ? AND mode = ? AND period_id = ?`), sub.FID, sub.Mode, sub.PeriodID).
			Scan(&best.FID, &best.Score, &best.MergeCount, &best.HighestLevel, &best.SessionID, &achieved)
		if err != nil {
			return fmt.Errorf("store: read best: %w", err)
		}
		best.AchievedAt = fromMillis(achieved)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &best, nil
}

// Leaderboard returns ranked best scores. Ties go to the earlier score.
func (s *sqlDB) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]Entry, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT fid, score, merge_count, highest_level, session_id, achieved_at
		FROM scores WHERE mode = ? AND period_id = ?
		ORDER BY score DESC, achieved_at ASC, fid ASC
		LIMIT ? OFFSET ?`), q.Mode, q.PeriodID, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("store: leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			achieved int64
		)
		if err := rows.Scan(&e.FID, &e.Score, &e.MergeCount, &e.HighestLevel, &e.SessionID, &achieved); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		e.AchievedAt = fromMillis(achieved)
		e.Rank = q.Offset + len(entries) + 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Rank returns fid's best entry with its position on the leaderboard.
func (s *sqlDB) Rank(ctx context.Context, fid int64, mode, periodID string) (*Entry, error) {
	var (
		e        Entry
		achieved int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT fid, score, merge_count, highest_level, session_id, achieved_at
		FROM scores WHERE fid = ? AND mode = ? AND period_id = ?`), fid, mode, periodID).
		Scan(&e.FID, &e.Score, &e.MergeCount, &e.HighestLevel, &e.SessionID, &achieved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: rank: %w", err)
	}

	var ahead int
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM scores
		WHERE mode = ? AND period_id = ?
		AND (score > ? OR (score = ? AND (achieved_at < ? OR (achieved_at = ? AND fid < ?))))`),
		mode, periodID, e.Score, e.Score, achieved, achieved, fid).Scan(&ahead)
	if err != nil {
		return nil, fmt.Errorf("store: rank count: %w", err)
	}
	e.AchievedAt = fromMillis(achieved)
	e.Rank = ahead + 1
	return &e, nil
}

// GameLog returns the archived raw log of a submitted session.
func (s *sqlDB) GameLog(ctx context.Context, sessionID string) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT log_json FROM game_logs WHERE session_id = ?`), sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: game log: %w", err)
	}
	return []byte(raw), nil
}

// PeriodLogs returns every archived log of a mode and period in submission order.
func (s *sqlDB) PeriodLogs(ctx context.Context, mode, periodID string) ([]ArchivedLog, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT session_id, fid, score, log_json, created_at
		FROM game_logs WHERE mode = ? AND period_id = ?
		ORDER BY created_at ASC, session_id ASC`), mode, periodID)
	if err != nil {
		return nil, fmt.Errorf("store: period logs: %w", err)
	}
	defer rows.Close()

	var logs []ArchivedLog
	for rows.Next() {
		var (
			l   ArchivedLog
			raw string
			at  int64
		)
		if err := rows.Scan(&l.SessionID, &l.FID, &l.Score, &raw, &at); err != nil {
			return nil, fmt.Errorf("store: scan log: %w", err)
		}
		l.LogJSON = []byte(raw)
		l.SubmittedAt = fromMillis(at)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ClaimPayout records p as pending for its period. A failed earlier attempt
// is taken over; any other existing record is returned with ErrConflict.
func (s *sqlDB) ClaimPayout(ctx context.Context, p *Payout) (*Payout, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	p.Status = PayoutPending
	p.CreatedAt = fromMillis(millis(now))
	p.UpdatedAt = p.CreatedAt
	winners, err := json.Marshal(p.Winners)
	if err != nil {
		return nil, fmt.Errorf("store: encode winners: %w", err)
	}

	var existing *Payout
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		prev, err := scanPayout(tx.QueryRowContext(ctx, s.q(payoutSelect+` WHERE period_id = ?`), p.PeriodID))
		switch {
		case errors.Is(err, ErrNotFound):
			_, err = tx.ExecContext(ctx, s.q(`
				INSERT INTO payouts (id, period_id, status, pool, winners_json, tx_hash, error, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, '', '', ?, ?)`),
				p.ID, p.PeriodID, string(p.Status), p.Pool, string(winners), millis(now), millis(now))
			if err != nil {
				return fmt.Errorf("store: insert payout: %w", err)
			}
			return nil
		case err != nil:
			return err
		case prev.Status != PayoutFailed:
			existing = prev
			return ErrConflict
		}

		p.ID = prev.ID
		p.CreatedAt = prev.CreatedAt
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE payouts SET status = ?, pool = ?, winners_json = ?, tx_hash = '', error = '', updated_at = ?
			WHERE id = ?`), string(p.Status), p.Pool, string(winners), millis(now), p.ID)
		if err != nil {
			return fmt.Errorf("store: retake payout: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrConflict) {
		return existing, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePayout persists the status, tx hash and error of p.
func (s *sqlDB) UpdatePayout(ctx context.Context, p *Payout) error {
	p.UpdatedAt = fromMillis(millis(time.Now()))
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE payouts SET status = ?, tx_hash = ?, error = ?, updated_at = ? WHERE period_id = ?`),
		string(p.Status), p.TxHash, p.Error, millis(p.UpdatedAt), p.PeriodID)
	if err != nil {
		return fmt.Errorf("store: update payout: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPayout loads the payout record of a period.
func (s *sqlDB) GetPayout(ctx context.Context, periodID string) (*Payout, error) {
	return scanPayout(s.db.QueryRowContext(ctx, s.q(payoutSelect+` WHERE period_id = ?`), periodID))
}

const payoutSelect = `SELECT id, period_id, status, pool, winners_json, tx_hash, error, created_at, updated_at FROM payouts`

func scanPayout(row *sql.Row) (*Payout, error) {
	var (
		p                Payout
		status, winners  string
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.PeriodID, &status, &p.Pool, &winners, &p.TxHash, &p.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan payout: %w", err)
	}
	p.Status = PayoutStatus(status)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(winners), &p.Winners); err != nil {
		return nil, fmt.Errorf("store: decode winners: %w", err)
	}
	return &p, nil
}

// SetOverlay stores the cosmetic override of one level.
func (s *sqlDB) SetOverlay(ctx context.Context, level int, c coins.Cosmetic) error {
	if err := (coins.Overlay{level: c}).Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO coin_overlay (level, name, color, glow_color, icon, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (level) DO UPDATE SET
			name = excluded.name, color = excluded.color, glow_color = excluded.glow_color,
			icon = excluded.icon, updated_at = excluded.updated_at`),
		level, c.Name, c.Color, c.GlowColor, c.Icon, millis(time.Now()))
	if err != nil {
		return fmt.Errorf("store: set overlay: %w", err)
	}
	return nil
}

// DeleteOverlay removes the override of one level.
func (s *sqlDB) DeleteOverlay(ctx context.Context, level int) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM coin_overlay WHERE level = ?`), level)
	if err != nil {
		return fmt.Errorf("store: delete overlay: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadOverlay returns every stored cosmetic override.
func (s *sqlDB) LoadOverlay(ctx context.Context) (coins.Overlay, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT level, name, color, glow_color, icon FROM coin_overlay`)
	if err != nil {
		return nil, fmt.Errorf("store: load overlay: %w", err)
	}
	defer rows.Close()

	o := coins.Overlay{}
	for rows.Next() {
		var (
			level int
			c     coins.Cosmetic
		)
		if err := rows.Scan(&level, &c.Name, &c.Color, &c.GlowColor, &c.Icon); err != nil {
			return nil, fmt.Errorf("store: scan overlay: %w", err)
		}
		o[level] = c
	}
	return o, rows.Err()
}
