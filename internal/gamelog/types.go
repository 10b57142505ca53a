// Package gamelog defines the per-session event log and the replay validator
// that recomputes a session's score from it.
package gamelog

import (
	"fmt"
	"time"
)

// Mode tags a session as free practice or paid tournament play.
type Mode string

const (
	ModePractice   Mode = "practice"
	ModeTournament Mode = "tournament"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModePractice || m == ModeTournament
}

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("gamelog: unknown mode %q", s)
	}
	return m, nil
}

// EventType distinguishes drop and merge events.
type EventType string

const (
	EventDrop  EventType = "DROP"
	EventMerge EventType = "MERGE"
)

// EventData carries the payload of a single event. DROP uses X and Level,
// MERGE uses FromLevel and ToLevel.
type EventData struct {
	X         float64 `json:"x,omitempty"`
	Level     int     `json:"level,omitempty"`
	FromLevel int     `json:"fromLevel,omitempty"`
	ToLevel   int     `json:"toLevel,omitempty"`
}

// GameEvent is one entry of the append-only session log.
type GameEvent struct {
	Type      EventType `json:"type" jsonschema:"enum=DROP,enum=MERGE"`
	Timestamp int64     `json:"timestamp" jsonschema:"description=Unix milliseconds"`
	Data      EventData `json:"data"`
}

// GameLog is the complete record of one session.
type GameLog struct {
	SessionID    string      `json:"sessionId"`
	FID          int64       `json:"fid"`
	Mode         Mode        `json:"mode" jsonschema:"enum=practice,enum=tournament"`
	StartTime    int64       `json:"startTime" jsonschema:"description=Unix milliseconds"`
	EndTime      int64       `json:"endTime,omitempty"`
	Events       []GameEvent `json:"events"`
	MergeCount   int         `json:"mergeCount"`
	HighestLevel int         `json:"highestLevel"`
	FinalScore   int         `json:"finalScore" jsonschema:"description=Client-side estimate; the server recomputes it"`
}

// CalculatedScore is the authoritative result of replaying a log.
type CalculatedScore struct {
	Score        int `json:"score"`
	MergeCount   int `json:"mergeCount"`
	HighestLevel int `json:"highestLevel"`
}

// Millis converts t to the Unix millisecond timestamps used in logs.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// New starts an empty log for a session.
func New(sessionID string, fid int64, mode Mode, start time.Time) *GameLog {
	return &GameLog{
		SessionID: sessionID,
		FID:       fid,
		Mode:      mode,
		StartTime: Millis(start),
		Events:    []GameEvent{},
	}
}

// AppendDrop records a coin of level dropped at x.
func (l *GameLog) AppendDrop(at time.Time, x float64, level int) {
	l.Events = append(l.Events, GameEvent{
		Type:      EventDrop,
		Timestamp: Millis(at),
		Data:      EventData{X: x, Level: level},
	})
}

// AppendMerge records two coins of from merging into one of to.
func (l *GameLog) AppendMerge(at time.Time, from, to int) {
	l.Events = append(l.Events, GameEvent{
		Type:      EventMerge,
		Timestamp: Millis(at),
		Data:      EventData{FromLevel: from, ToLevel: to},
	})
}

// Finalize stamps the end of the session with the client-side totals.
func (l *GameLog) Finalize(end time.Time, mergeCount, highestLevel, finalScore int) {
	l.EndTime = Millis(end)
	l.MergeCount = mergeCount
	l.HighestLevel = highestLevel
	l.FinalScore = finalScore
}

// Finalized reports whether Finalize has been called.
func (l *GameLog) Finalized() bool {
	return l.EndTime != 0
}

// Duration is the span between the first and last event.
func (l *GameLog) Duration() time.Duration {
	if len(l.Events) == 0 {
		return 0
	}
	first := l.Events[0].Timestamp
	last := l.Events[len(l.Events)-1].Timestamp
	return time.Duration(last-first) * time.Millisecond
}
