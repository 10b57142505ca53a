package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coinmerge/coinmerge/internal/coins"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

func startPractice(t *testing.T, db DB, fid int64, limit int) (*Session, error) {
	t.Helper()
	return db.StartSession(context.Background(), SessionStart{
		FID:        fid,
		Mode:       "practice",
		PeriodID:   "W2026-10-12",
		DayID:      "D2026-10-16",
		DailyLimit: limit,
	})
}

func TestMigrationIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coinmerge.db")
	db, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Failed to migrate (pass %d): %v", i+1, err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	if _, err := startPractice(t, db, 1, 10); err != nil {
		t.Fatalf("Failed to use database after repeated migrations: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPracticeDailyLimit(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 3; i++ {
		sess, err := startPractice(t, db, 42, 3)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if want := 3 - (i + 1); sess.AttemptsLeft != want {
			t.Errorf("attempt %d: attemptsLeft=%d, want %d", i+1, sess.AttemptsLeft, want)
		}
	}
	if _, err := startPractice(t, db, 42, 3); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}

	// Another player and another day are unaffected.
	if _, err := startPractice(t, db, 43, 3); err != nil {
		t.Errorf("other fid blocked: %v", err)
	}
	_, err := db.StartSession(context.Background(), SessionStart{
		FID: 42, Mode: "practice", PeriodID: "W2026-10-12", DayID: "D2026-10-17", DailyLimit: 3,
	})
	if err != nil {
		t.Errorf("next day blocked: %v", err)
	}

	n, err := db.PracticeAttempts(context.Background(), 42, "D2026-10-16")
	if err != nil || n != 3 {
		t.Errorf("PracticeAttempts = %d, %v", n, err)
	}
}

func TestTournamentCredits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := SessionStart{FID: 7, Mode: "tournament", PeriodID: "W2026-10-12", DayID: "D2026-10-16"}

	if _, err := db.StartSession(ctx, start); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected no credits, got %v", err)
	}
	total, err := db.GrantCredits(ctx, 7, 2)
	if err != nil || total != 2 {
		t.Fatalf("GrantCredits = %d, %v", total, err)
	}
	if total, _ = db.GrantCredits(ctx, 7, 1); total != 3 {
		t.Errorf("credits should accumulate, got %d", total)
	}
	if _, err := db.GrantCredits(ctx, 7, 0); err == nil {
		t.Error("expected error for zero credits")
	}

	sess, err := db.StartSession(ctx, start)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.AttemptsLeft != 2 {
		t.Errorf("attemptsLeft=%d, want 2", sess.AttemptsLeft)
	}
	if left, _ := db.Credits(ctx, 7); left != 2 {
		t.Errorf("credits=%d, want 2", left)
	}

	got, err := db.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.FID != 7 || got.Mode != "tournament" || got.Submitted() {
		t.Errorf("unexpected session %+v", got)
	}
	if _, err := db.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func submit(t *testing.T, db DB, fid int64, score int, at time.Time) (*Session, *Entry, error) {
	t.Helper()
	sess, err := startPractice(t, db, fid, 100)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	best, err := db.SubmitScore(context.Background(), ScoreSubmission{
		SessionID:    sess.ID,
		FID:          fid,
		Mode:         "practice",
		PeriodID:     "W2026-10-12",
		Score:        score,
		MergeCount:   score / 2,
		HighestLevel: 3,
		LogJSON:      []byte(`{"events":[]}`),
		At:           at,
	})
	return sess, best, err
}

func TestSubmitKeepsBestScore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 10, 13, 10, 0, 0, 0, time.UTC)

	_, best, err := submit(t, db, 1, 40, t0)
	if err != nil || best.Score != 40 {
		t.Fatalf("first submit: %+v, %v", best, err)
	}
	_, best, _ = submit(t, db, 1, 25, t0.Add(time.Hour))
	if best.Score != 40 {
		t.Errorf("lower score replaced best: %d", best.Score)
	}
	sess, best, _ := submit(t, db, 1, 90, t0.Add(2*time.Hour))
	if best.Score != 90 || best.SessionID != sess.ID {
		t.Errorf("higher score not kept: %+v", best)
	}

	stored, err := db.GetSession(ctx, sess.ID)
	if err != nil || !stored.Submitted() || *stored.Score != 90 {
		t.Errorf("session not marked submitted: %+v, %v", stored, err)
	}
	raw, err := db.GameLog(ctx, sess.ID)
	if err != nil || string(raw) != `{"events":[]}` {
		t.Errorf("archived log = %q, %v", raw, err)
	}
}

func TestPeriodLogs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 10, 13, 10, 0, 0, 0, time.UTC)

	second, _, _ := submit(t, db, 2, 10, t0.Add(time.Minute))
	first, _, _ := submit(t, db, 1, 30, t0)
	submit(t, db, 1, 5, t0.Add(time.Hour))

	logs, err := db.PeriodLogs(ctx, "practice", "W2026-10-12")
	if err != nil {
		t.Fatalf("PeriodLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected every archived log, got %d", len(logs))
	}
	if logs[0].SessionID != first.ID || logs[1].SessionID != second.ID || logs[2].Score != 5 {
		t.Errorf("logs not in submission order: %+v", logs)
	}
	if !logs[0].SubmittedAt.Equal(t0) || string(logs[0].LogJSON) != `{"events":[]}` {
		t.Errorf("unexpected log %+v", logs[0])
	}

	if logs, _ := db.PeriodLogs(ctx, "tournament", "W2026-10-12"); len(logs) != 0 {
		t.Errorf("expected no tournament logs, got %d", len(logs))
	}
}

func TestSubmitTwiceFails(t *testing.T) {
	db := newTestDB(t)
	sess, _, err := submit(t, db, 5, 10, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.SubmitScore(context.Background(), ScoreSubmission{
		SessionID: sess.ID, FID: 5, Mode: "practice", PeriodID: "W2026-10-12", Score: 999, LogJSON: []byte(`{}`),
	})
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	_, err = db.SubmitScore(context.Background(), ScoreSubmission{SessionID: "nope", LogJSON: []byte(`{}`)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLeaderboardOrderingAndRank(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 10, 13, 10, 0, 0, 0, time.UTC)

	submit(t, db, 10, 50, t0.Add(2*time.Minute))
	submit(t, db, 11, 80, t0.Add(3*time.Minute))
	submit(t, db, 12, 50, t0.Add(1*time.Minute)) // ties with 10 but earlier
	submit(t, db, 13, 20, t0)

	entries, err := db.Leaderboard(ctx, LeaderboardQuery{Mode: "practice", PeriodID: "W2026-10-12", Limit: 10})
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	want := []int64{11, 12, 10, 13}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.FID != want[i] || e.Rank != i+1 {
			t.Errorf("position %d: fid=%d rank=%d, want fid=%d", i, e.FID, e.Rank, want[i])
		}
	}

	page, _ := db.Leaderboard(ctx, LeaderboardQuery{Mode: "practice", PeriodID: "W2026-10-12", Limit: 2, Offset: 2})
	if len(page) != 2 || page[0].Rank != 3 || page[0].FID != 10 {
		t.Errorf("unexpected second page %+v", page)
	}

	me, err := db.Rank(ctx, 10, "practice", "W2026-10-12")
	if err != nil || me.Rank != 3 {
		t.Errorf("Rank = %+v, %v", me, err)
	}
	if _, err := db.Rank(ctx, 99, "practice", "W2026-10-12"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if other, _ := db.Leaderboard(ctx, LeaderboardQuery{Mode: "tournament", PeriodID: "W2026-10-12"}); len(other) != 0 {
		t.Errorf("modes must not mix: %+v", other)
	}
}

func TestPayoutClaimLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := &Payout{PeriodID: "W2026-10-05", Pool: "100", Winners: []Winner{{Rank: 1, FID: 3, Amount: "50"}}}

	claimed, err := db.ClaimPayout(ctx, p)
	if err != nil || claimed.Status != PayoutPending || claimed.ID == "" {
		t.Fatalf("ClaimPayout = %+v, %v", claimed, err)
	}
	existing, err := db.ClaimPayout(ctx, &Payout{PeriodID: "W2026-10-05", Pool: "100"})
	if !errors.Is(err, ErrConflict) || existing.ID != claimed.ID {
		t.Fatalf("second claim: %+v, %v", existing, err)
	}

	claimed.Status = PayoutFailed
	claimed.Error = "relay down"
	if err := db.UpdatePayout(ctx, claimed); err != nil {
		t.Fatalf("UpdatePayout: %v", err)
	}
	retry, err := db.ClaimPayout(ctx, &Payout{PeriodID: "W2026-10-05", Pool: "120"})
	if err != nil || retry.ID != claimed.ID || retry.Pool != "120" {
		t.Fatalf("failed payout should be retaken: %+v, %v", retry, err)
	}

	retry.Status = PayoutCompleted
	retry.TxHash = "0xabc"
	if err := db.UpdatePayout(ctx, retry); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetPayout(ctx, "W2026-10-05")
	if err != nil || got.Status != PayoutCompleted || got.TxHash != "0xabc" || got.Error != "" {
		t.Errorf("GetPayout = %+v, %v", got, err)
	}
	if _, err := db.GetPayout(ctx, "W2026-09-28"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOverlayPersistence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SetOverlay(ctx, 11, coins.Cosmetic{Name: "Sponsor", Color: "#123456"}); err != nil {
		t.Fatalf("SetOverlay: %v", err)
	}
	if err := db.SetOverlay(ctx, 11, coins.Cosmetic{Name: "Sponsor 2"}); err != nil {
		t.Fatalf("SetOverlay update: %v", err)
	}
	if err := db.SetOverlay(ctx, 0, coins.Cosmetic{Name: "bad"}); err == nil {
		t.Error("expected level validation error")
	}

	o, err := db.LoadOverlay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(o) != 1 || o[11].Name != "Sponsor 2" || o[11].Color != "" {
		t.Errorf("unexpected overlay %+v", o)
	}
	if err := db.DeleteOverlay(ctx, 11); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteOverlay(ctx, 11); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	got := rebind(`SELECT a FROM t WHERE x = ? AND y IN (?, ?)`)
	if got != `SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)` {
		t.Errorf("got %s", got)
	}
}
