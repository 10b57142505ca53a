package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/coinmerge/coinmerge/internal/gamelog"
	"github.com/coinmerge/coinmerge/internal/store"
)

type fakeSource struct {
	logs []store.ArchivedLog
	err  error
}

func (f fakeSource) PeriodLogs(ctx context.Context, mode, periodID string) ([]store.ArchivedLog, error) {
	return f.logs, f.err
}

// archived returns a stored log with merges into toLevels and the score it
// would have been recorded with.
func archived(t *testing.T, sessionID string, fid int64, toLevels ...int) store.ArchivedLog {
	t.Helper()
	start := time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)
	l := gamelog.New(sessionID, fid, gamelog.ModeTournament, start)
	at := start.Add(100 * time.Millisecond)
	for _, to := range toLevels {
		l.AppendDrop(at, 100, 1)
		l.AppendDrop(at.Add(300*time.Millisecond), 120, 1)
		at = at.Add(600 * time.Millisecond)
		l.AppendMerge(at, to-1, to)
		at = at.Add(300 * time.Millisecond)
	}
	l.Finalize(at, len(toLevels), 0, 0)
	raw, err := json.Marshal(l)
	if err != nil {
		t.Fatal(err)
	}
	return store.ArchivedLog{SessionID: sessionID, FID: fid, Score: gamelog.CalculateScore(l).Score, LogJSON: raw}
}

func TestRunFlagsTamperedLogs(t *testing.T) {
	var logs []store.ArchivedLog
	for i := 0; i < 150; i++ {
		logs = append(logs, archived(t, fmt.Sprintf("s-%d", i), int64(i+1), 2, 2))
	}
	logs[3].Score = 9999
	logs[70].LogJSON = []byte("{broken")
	logs[120].FID = 7777

	a := New(fakeSource{logs: logs})
	a.workerCount = 4
	report, err := a.Run(context.Background(), Request{Mode: "tournament", PeriodID: "W2026-10-12"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Summary.TotalLogs != 150 || report.Summary.TotalEvaluated != 150 {
		t.Errorf("unexpected totals %+v", report.Summary)
	}
	if report.Summary.Flagged != 3 || len(report.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %+v", report.Findings)
	}
	bySession := map[string]Finding{}
	for _, f := range report.Findings {
		bySession[f.SessionID] = f
	}
	if f := bySession["s-3"]; f.ReplayedScore != 4 || !strings.HasPrefix(f.Reasons[0], "Stored score 9999") {
		t.Errorf("score mismatch not reported: %+v", f)
	}
	if f := bySession["s-70"]; !strings.HasPrefix(f.Reasons[0], "Unreadable log") {
		t.Errorf("broken log not reported: %+v", f)
	}
	if f := bySession["s-120"]; f.Reasons[0] != "Log does not belong to its session" {
		t.Errorf("foreign log not reported: %+v", f)
	}
	if report.Summary.MinScore != 0 || report.Summary.MaxScore != 4 {
		t.Errorf("unexpected score range %+v", report.Summary)
	}
}

func TestRunStrictAddsCausality(t *testing.T) {
	// A merge into level 4 needs two level-3 coins nothing produced.
	logs := []store.ArchivedLog{archived(t, "s-1", 1, 2, 4)}

	a := New(fakeSource{logs: logs})
	report, err := a.Run(context.Background(), Request{Mode: "tournament", PeriodID: "W2026-10-12"})
	if err != nil || report.Summary.Flagged != 0 {
		t.Fatalf("lenient audit: %+v, %v", report, err)
	}
	report, err = a.Run(context.Background(), Request{Mode: "tournament", PeriodID: "W2026-10-12", Strict: true})
	if err != nil || report.Summary.Flagged != 1 {
		t.Fatalf("strict audit: %+v, %v", report, err)
	}
	if report.Summary.MeanScore != 10 {
		t.Errorf("mean score = %v", report.Summary.MeanScore)
	}
}

func TestRunLimitsFindings(t *testing.T) {
	var logs []store.ArchivedLog
	for i := 0; i < 10; i++ {
		l := archived(t, fmt.Sprintf("s-%d", i), int64(i+1), 2)
		l.Score++
		logs = append(logs, l)
	}
	report, err := New(fakeSource{logs: logs}).Run(context.Background(), Request{Mode: "tournament", PeriodID: "p", Limit: 4})
	if err != nil {
		t.Fatal(err)
	}
	if report.Summary.Flagged != 10 || len(report.Findings) != 4 {
		t.Errorf("flagged=%d findings=%d", report.Summary.Flagged, len(report.Findings))
	}
}

func TestRunErrors(t *testing.T) {
	a := New(fakeSource{err: errors.New("db down")})
	if _, err := a.Run(context.Background(), Request{Mode: "tournament"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := a.Run(context.Background(), Request{Mode: "tournament", PeriodID: "p"}); err == nil {
		t.Error("expected source error")
	}

	report, err := New(fakeSource{}).Run(context.Background(), Request{Mode: "practice", PeriodID: "p"})
	if err != nil || report.Summary.TotalLogs != 0 || report.Findings == nil {
		t.Errorf("empty period: %+v, %v", report, err)
	}
}
