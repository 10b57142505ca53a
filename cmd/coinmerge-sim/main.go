// Command coinmerge-sim plays a headless game with a simple bot and prints
// the resulting game log. With -submit it plays a real session against a
// running server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coinmerge/coinmerge/internal/coins"
	"github.com/coinmerge/coinmerge/internal/config"
	"github.com/coinmerge/coinmerge/internal/gamelog"
	"github.com/coinmerge/coinmerge/internal/gameloop"
)

type options struct {
	seed     uint64
	frames   int
	interval int
	fid      int64
	mode     string
	platform string
	config   string
	board    bool
	submit   string
	token    string
}

func main() {
	var o options
	flag.Uint64Var(&o.seed, "seed", uint64(time.Now().UnixNano()), "random seed for drops and the bot")
	flag.IntVar(&o.frames, "frames", 60*60*10, "maximum frames to simulate")
	flag.IntVar(&o.interval, "interval", 40, "frames between bot drops")
	flag.Int64Var(&o.fid, "fid", 1, "player fid")
	flag.StringVar(&o.mode, "mode", "practice", "practice or tournament")
	flag.StringVar(&o.platform, "platform", "", "coin skin platform (e.g. base)")
	flag.StringVar(&o.config, "config", "", "game rules YAML file")
	flag.BoolVar(&o.board, "board", false, "print the final board to stderr")
	flag.StringVar(&o.submit, "submit", "", "server URL to play a real session against")
	flag.StringVar(&o.token, "token", "", "bearer token for -submit (default dev:<fid>)")
	flag.Parse()

	logger := log.New(os.Stderr, "[SIM] ", log.LstdFlags)
	if err := run(context.Background(), o, logger); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, o options, logger *log.Logger) error {
	mode, err := gamelog.ParseMode(o.mode)
	if err != nil {
		return err
	}
	cfg := config.Default()
	if o.config != "" {
		if cfg.Game, err = config.LoadGame(o.config, cfg.Game); err != nil {
			return err
		}
	}
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x5deece66d))
	roller, err := gameloop.NewRoller(cfg.Game.DropWeights, rng.Float64)
	if err != nil {
		return err
	}
	catalog := coins.NewCatalog(cfg.Game.Overlay)

	var remote *client
	sessionID := uuid.NewString()
	if o.submit != "" {
		token := o.token
		if token == "" {
			token = fmt.Sprintf("dev:%d", o.fid)
		}
		remote = &client{base: strings.TrimRight(o.submit, "/"), token: token, http: &http.Client{Timeout: 15 * time.Second}}
		if sessionID, err = remote.startSession(ctx, mode); err != nil {
			return err
		}
		logger.Printf("session_started session_id=%s mode=%s", sessionID, mode)
	}

	clock := gameloop.NewVirtualClock(time.Now())
	sess := gameloop.NewSession(sessionID, o.fid, mode, gameloop.Options{
		Field:    cfg.FieldConfig(),
		Roller:   roller,
		Clock:    clock,
		Catalog:  catalog,
		Platform: coins.Platform(o.platform),
	})
	renderer := gameloop.NewTextRenderer(40, 30)
	gameLog, simErr := gameloop.Simulate(sess, clock, gameloop.NewAutoplay(o.interval, o.seed), renderer, o.frames)
	finished := simErr == nil
	if errors.Is(simErr, gameloop.ErrFrameLimit) {
		logger.Printf("frame_limit frames=%d events=%d", o.frames, len(gameLog.Events))
	} else if simErr != nil {
		return simErr
	}
	if o.board {
		fmt.Fprint(os.Stderr, renderer.String())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(gameLog); err != nil {
		return err
	}

	res := gamelog.Validate(gameLog)
	calc := gamelog.CalculateScore(gameLog)
	if finished {
		logger.Printf("game_over duration=%s events=%d score=%d merges=%d highest=%d valid=%t",
			gameLog.Duration(), len(gameLog.Events), calc.Score, calc.MergeCount, calc.HighestLevel, res.Valid)
	}
	for _, reason := range res.Errors {
		logger.Printf("validation_error reason=%q", reason)
	}

	if remote == nil {
		return nil
	}
	// An abandoned session has no final totals; submitting it would report a finished game.
	if !finished {
		return fmt.Errorf("session %s not submitted: %w", sessionID, simErr)
	}
	body, err := remote.submit(ctx, gameLog)
	if err != nil {
		return err
	}
	logger.Printf("score_submitted response=%s", bytes.TrimSpace(body))
	return nil
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) startSession(ctx context.Context, mode gamelog.Mode) (string, error) {
	body, err := c.post(ctx, "/api/v1/sessions", map[string]string{"mode": string(mode)})
	if err != nil {
		return "", err
	}
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	return resp.SessionID, nil
}

func (c *client) submit(ctx context.Context, l *gamelog.GameLog) ([]byte, error) {
	return c.post(ctx, "/api/v1/scores", l)
}

func (c *client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("POST %s: HTTP %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}
