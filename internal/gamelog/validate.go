package gamelog

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/coinmerge/coinmerge/internal/coins"
)

const (
	// StartTolerance is how far (ms) the first event may precede startTime.
	StartTolerance = 1000
	// MinDuration is the shortest plausible session (ms).
	MinDuration = 500
	// MaxDropLevel is the highest level the drop roller can produce.
	MaxDropLevel = 3
)

// ValidationResult lists every problem found in a log.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err combines the reasons into a single error, or nil when valid.
func (r ValidationResult) Err() error {
	var err error
	for _, reason := range r.Errors {
		err = multierr.Append(err, errors.New(reason))
	}
	return err
}

// CalculateScore replays the merge events of log. Each MERGE adds the score
// value of its resulting level; DROP events do not score.
func CalculateScore(log *GameLog) CalculatedScore {
	var out CalculatedScore
	if log == nil {
		return out
	}
	for _, ev := range log.Events {
		if ev.Type != EventMerge {
			continue
		}
		out.Score += coins.ScoreValue(ev.Data.ToLevel)
		out.MergeCount++
		if ev.Data.ToLevel > out.HighestLevel {
			out.HighestLevel = ev.Data.ToLevel
		}
	}
	return out
}

// Validate performs the structural and timing checks on log. Every violation
// is reported, including every bad merge transition.
func Validate(log *GameLog) ValidationResult {
	var errs []string
	if log == nil {
		return ValidationResult{Valid: false, Errors: []string{"Missing game log"}}
	}

	if log.SessionID == "" {
		errs = append(errs, "Missing sessionId")
	}
	if log.FID <= 0 {
		errs = append(errs, "Invalid fid")
	}
	if !log.Mode.Valid() {
		errs = append(errs, "Invalid mode")
	}
	if log.StartTime <= 0 {
		errs = append(errs, "Invalid startTime")
	}
	if log.Events == nil {
		errs = append(errs, "Missing events array")
	}

	if n := len(log.Events); n > 0 {
		first := log.Events[0].Timestamp
		last := log.Events[n-1].Timestamp
		if log.StartTime > 0 && first < log.StartTime-StartTolerance {
			errs = append(errs, "First event timestamp precedes startTime")
		}
		switch {
		case log.StartTime > 0 && last-log.StartTime < MinDuration:
			errs = append(errs, fmt.Sprintf("Game duration too short (%dms)", last-log.StartTime))
		case last-first < MinDuration:
			errs = append(errs, fmt.Sprintf("Game duration too short (%dms)", last-first))
		}
	}

	for i, ev := range log.Events {
		switch ev.Type {
		case EventDrop:
			if ev.Data.Level < 1 || ev.Data.Level > coins.MaxLevel {
				errs = append(errs, fmt.Sprintf("Invalid drop event at index %d: level %d", i, ev.Data.Level))
			}
		case EventMerge:
			from, to := ev.Data.FromLevel, ev.Data.ToLevel
			if from < 1 || to > coins.MaxLevel || to != from+1 {
				errs = append(errs, fmt.Sprintf("Invalid merge event at index %d: %d -> %d", i, from, to))
			}
		default:
			errs = append(errs, fmt.Sprintf("Unknown event type %q at index %d", ev.Type, i))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// CheckCausality verifies that every merge consumes two coins that earlier
// drops or merges produced. It returns the reasons for any unsupported events.
// Malformed merges and unknown event types are skipped; Validate reports them.
func CheckCausality(log *GameLog) []string {
	if log == nil {
		return nil
	}
	var errs []string
	var counts [coins.MaxLevel + 2]int
	for i, ev := range log.Events {
		switch ev.Type {
		case EventDrop:
			lvl := ev.Data.Level
			if lvl < 1 || lvl > MaxDropLevel {
				errs = append(errs, fmt.Sprintf("Drop at index %d has undroppable level %d", i, lvl))
				continue
			}
			counts[lvl]++
		case EventMerge:
			from, to := ev.Data.FromLevel, ev.Data.ToLevel
			if from < 1 || to > coins.MaxLevel || to != from+1 {
				continue
			}
			if counts[from] < 2 {
				errs = append(errs, fmt.Sprintf("Merge at index %d has no two level-%d coins to consume", i, from))
				continue
			}
			counts[from] -= 2
			counts[to]++
		}
	}
	return errs
}
