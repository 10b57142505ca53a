package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coinmerge/coinmerge/internal/gamelog"
	"github.com/coinmerge/coinmerge/internal/gameloop"
)

func TestRunSubmitsPlayedSession(t *testing.T) {
	var submitted gamelog.GameLog
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer dev:9" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/sessions":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"sessionId":"s-1","mode":"practice"}`))
		case "/api/v1/scores":
			if err := json.NewDecoder(r.Body).Decode(&submitted); err != nil {
				t.Errorf("decode: %v", err)
			}
			w.Write([]byte(`{"score":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	o := options{seed: 7, frames: 600, interval: 20, fid: 9, mode: "practice", submit: server.URL + "/", config: shallowField(t)}
	if err := run(context.Background(), o, log.New(io.Discard, "", 0)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if submitted.SessionID != "s-1" || submitted.FID != 9 || len(submitted.Events) == 0 {
		t.Errorf("unexpected submission %+v", submitted)
	}
	if !submitted.Finalized() || submitted.FinalScore != gamelog.CalculateScore(&submitted).Score {
		t.Errorf("submitted log is not a finished game: end=%d score=%d", submitted.EndTime, submitted.FinalScore)
	}
}

// shallowField writes game rules whose danger line sits below a coin resting on
// the floor, so the first coin to settle ends the game.
func shallowField(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "field:\n  width: 400\n  height: 200\n  danger_line: 190\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("Failed to write rules: %v", err)
	}
	return path
}

func TestRunDoesNotSubmitAbandonedSession(t *testing.T) {
	var scores int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sessions":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"sessionId":"s-2","mode":"practice"}`))
		case "/api/v1/scores":
			scores++
			w.Write([]byte(`{"score":0}`))
		}
	}))
	defer server.Close()

	var out bytes.Buffer
	o := options{seed: 3, frames: 30, interval: 10, fid: 4, mode: "practice", submit: server.URL}
	err := run(context.Background(), o, log.New(&out, "", 0))
	if !errors.Is(err, gameloop.ErrFrameLimit) {
		t.Fatalf("expected frame limit error, got %v", err)
	}
	if scores != 0 {
		t.Errorf("abandoned session was submitted %d times", scores)
	}
	if !strings.Contains(out.String(), "frame_limit frames=30") || strings.Contains(out.String(), "game_over") {
		t.Errorf("unexpected log output: %s", out.String())
	}
}

func TestClientReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"no_attempts_left"}`))
	}))
	defer server.Close()

	c := &client{base: server.URL, token: "dev:1", http: server.Client()}
	if _, err := c.startSession(context.Background(), gamelog.ModePractice); err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	if err := run(context.Background(), options{mode: "arcade"}, log.New(io.Discard, "", 0)); err == nil {
		t.Error("expected error for unknown mode")
	}
}
