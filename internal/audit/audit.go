// Package audit re-verifies the archived game logs of a period in parallel,
// flagging logs that no longer pass validation or whose recorded score
// differs from a fresh replay.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coinmerge/coinmerge/internal/gamelog"
	"github.com/coinmerge/coinmerge/internal/store"
)

var ErrInvalidRequest = errors.New("audit: mode and period are required")

// LogSource lists archived logs.
type LogSource interface {
	PeriodLogs(ctx context.Context, mode, periodID string) ([]store.ArchivedLog, error)
}

// Request selects the logs to re-verify.
type Request struct {
	Mode      string `json:"mode"`
	PeriodID  string `json:"periodId"`
	Strict    bool   `json:"strict"`              // also run the causal cross-check
	Limit     int    `json:"limit,omitempty"`     // max findings returned; all are counted
	TimeoutMs int    `json:"timeoutMs,omitempty"` // 0 means no deadline
}

// Finding is one log that failed re-verification.
type Finding struct {
	SessionID     string   `json:"sessionId"`
	FID           int64    `json:"fid"`
	StoredScore   int      `json:"storedScore"`
	ReplayedScore int      `json:"replayedScore"`
	Reasons       []string `json:"reasons"`
}

// Summary aggregates the replayed scores of every evaluated log.
type Summary struct {
	TotalLogs      int     `json:"totalLogs"`
	TotalEvaluated int64   `json:"totalEvaluated"`
	Flagged        int     `json:"flagged"`
	MinScore       int     `json:"minScore"`
	MaxScore       int     `json:"maxScore"`
	MeanScore      float64 `json:"meanScore"`
	TimedOut       bool    `json:"timedOut,omitempty"`
}

// Report is the outcome of one audit run.
type Report struct {
	Findings []Finding `json:"findings"`
	Summary  Summary   `json:"summary"`
	Echo     Request   `json:"echo"`
}

// Auditor replays logs on a fixed pool of workers.
type Auditor struct {
	src         LogSource
	workerCount int
	batchSize   int
	logger      *log.Logger
}

// New creates an auditor with one worker per CPU.
func New(src LogSource) *Auditor {
	return &Auditor{
		src:         src,
		workerCount: runtime.GOMAXPROCS(0),
		batchSize:   64,
		logger:      log.New(os.Stdout, "[AUDIT] ", log.LstdFlags),
	}
}

// scoreStats is one worker's running aggregate.
type scoreStats struct {
	n        int
	sum      int64
	min, max int
}

func (s *scoreStats) add(score int) {
	if s.n == 0 || score < s.min {
		s.min = score
	}
	if s.n == 0 || score > s.max {
		s.max = score
	}
	s.n++
	s.sum += int64(score)
}

// Run re-verifies every archived log of req.Mode in req.PeriodID.
func (a *Auditor) Run(ctx context.Context, req Request) (*Report, error) {
	if req.Mode == "" || req.PeriodID == "" {
		return nil, ErrInvalidRequest
	}
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	start := time.Now()

	logs, err := a.src.PeriodLogs(ctx, req.Mode, req.PeriodID)
	if err != nil {
		return nil, fmt.Errorf("audit: load logs: %w", err)
	}

	jobs := make(chan []store.ArchivedLog, a.workerCount*2)
	findings := make(chan Finding, 256)
	stats := make([]scoreStats, a.workerCount)
	var evaluated atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < a.workerCount; i++ {
		wg.Add(1)
		go func(st *scoreStats) {
			defer wg.Done()
			for {
				select {
				case batch, ok := <-jobs:
					if !ok {
						return
					}
					for _, l := range batch {
						if ctx.Err() != nil {
							return
						}
						f, replayed := check(l, req.Strict)
						evaluated.Add(1)
						st.add(replayed)
						if f != nil {
							select {
							case findings <- *f:
							case <-ctx.Done():
								return
							}
						}
					}
				case <-ctx.Done():
					return
				}
			}
		}(&stats[i])
	}

	go a.generateJobs(ctx, jobs, logs)
	go func() {
		wg.Wait()
		close(findings)
	}()

	report := &Report{Findings: []Finding{}, Echo: req}
	for f := range findings {
		report.Summary.Flagged++
		if req.Limit <= 0 || len(report.Findings) < req.Limit {
			report.Findings = append(report.Findings, f)
		}
	}

	var total scoreStats
	for _, st := range stats {
		if st.n == 0 {
			continue
		}
		if total.n == 0 || st.min < total.min {
			total.min = st.min
		}
		if total.n == 0 || st.max > total.max {
			total.max = st.max
		}
		total.n += st.n
		total.sum += st.sum
	}
	report.Summary.TotalLogs = len(logs)
	report.Summary.TotalEvaluated = evaluated.Load()
	report.Summary.MinScore = total.min
	report.Summary.MaxScore = total.max
	if total.n > 0 {
		report.Summary.MeanScore = float64(total.sum) / float64(total.n)
	}
	report.Summary.TimedOut = ctx.Err() != nil && report.Summary.TotalEvaluated < int64(len(logs))

	a.logger.Printf("audit_completed mode=%s period=%s strict=%t logs=%d evaluated=%d flagged=%d timed_out=%t duration=%s",
		req.Mode, req.PeriodID, req.Strict, len(logs), report.Summary.TotalEvaluated,
		report.Summary.Flagged, report.Summary.TimedOut, time.Since(start))
	return report, nil
}

func (a *Auditor) generateJobs(ctx context.Context, jobs chan<- []store.ArchivedLog, logs []store.ArchivedLog) {
	defer close(jobs)
	for start := 0; start < len(logs); start += a.batchSize {
		end := start + a.batchSize
		if end > len(logs) {
			end = len(logs)
		}
		select {
		case jobs <- logs[start:end]:
		case <-ctx.Done():
			return
		}
	}
}

// check replays one archived log. It returns a finding when the log fails
// validation or its recorded score no longer matches.
func check(l store.ArchivedLog, strict bool) (*Finding, int) {
	f := &Finding{SessionID: l.SessionID, FID: l.FID, StoredScore: l.Score}

	var gl gamelog.GameLog
	if err := json.Unmarshal(l.LogJSON, &gl); err != nil {
		f.Reasons = []string{"Unreadable log: " + err.Error()}
		return f, 0
	}
	if gl.SessionID != l.SessionID || gl.FID != l.FID {
		f.Reasons = append(f.Reasons, "Log does not belong to its session")
	}
	f.Reasons = append(f.Reasons, gamelog.Validate(&gl).Errors...)
	if strict {
		f.Reasons = append(f.Reasons, gamelog.CheckCausality(&gl)...)
	}
	f.ReplayedScore = gamelog.CalculateScore(&gl).Score
	if f.ReplayedScore != l.Score {
		f.Reasons = append(f.Reasons, fmt.Sprintf("Stored score %d differs from replayed score %d", l.Score, f.ReplayedScore))
	}
	if len(f.Reasons) == 0 {
		return nil, f.ReplayedScore
	}
	return f, f.ReplayedScore
}
