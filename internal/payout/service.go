// Package payout distributes a finished tournament period's prize pool to
// its top players, at most once per period.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinmerge/coinmerge/internal/period"
	"github.com/coinmerge/coinmerge/internal/prizepool"
	"github.com/coinmerge/coinmerge/internal/store"
)

var (
	ErrAlreadyPaid   = errors.New("payout: period already paid")
	ErrInProgress    = errors.New("payout: distribution in progress")
	ErrPeriodOpen    = errors.New("payout: period has not ended")
	ErrInvalidPeriod = errors.New("payout: invalid period id")
	ErrNoWinners     = errors.New("payout: no tournament scores in period")
	ErrEmptyPool     = errors.New("payout: prize pool is empty")
)

// Pool reads and pays out the on-chain prize pool.
type Pool interface {
	Balance(ctx context.Context) (*prizepool.Pool, error)
	Distribute(ctx context.Context, req prizepool.DistributeRequest) (*prizepool.Receipt, error)
}

// Ranker returns a period's top tournament entries.
type Ranker interface {
	Winners(ctx context.Context, periodID string, n int) ([]store.Entry, error)
}

// Store persists payout records.
type Store interface {
	ClaimPayout(ctx context.Context, p *store.Payout) (*store.Payout, error)
	UpdatePayout(ctx context.Context, p *store.Payout) error
	GetPayout(ctx context.Context, periodID string) (*store.Payout, error)
}

// Service runs payouts.
type Service struct {
	store    Store
	pool     Pool
	ranker   Ranker
	schedule period.Schedule
	shares   []decimal.Decimal
	logger   *log.Logger
	now      func() time.Time
}

// New creates a payout service. Nil shares use prizepool.DefaultShares.
func New(st Store, pool Pool, ranker Ranker, schedule period.Schedule, shares []decimal.Decimal) (*Service, error) {
	if len(shares) == 0 {
		shares = prizepool.DefaultShares
	}
	if err := prizepool.ValidateShares(shares); err != nil {
		return nil, err
	}
	return &Service{
		store:    st,
		pool:     pool,
		ranker:   ranker,
		schedule: schedule,
		shares:   shares,
		logger:   log.New(os.Stdout, "[PAYOUT] ", log.LstdFlags),
		now:      time.Now,
	}, nil
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Get returns the payout record of a period.
func (s *Service) Get(ctx context.Context, periodID string) (*store.Payout, error) {
	return s.store.GetPayout(ctx, periodID)
}

// Preview computes the winners and amounts a distribution would pay now.
func (s *Service) Preview(ctx context.Context, periodID string) (*store.Payout, error) {
	if _, _, err := s.schedule.Bounds(periodID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
	}
	entries, err := s.ranker.Winners(ctx, periodID, len(s.shares))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoWinners
	}
	pool, err := s.pool.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("payout: read pool: %w", err)
	}
	if !pool.Balance.IsPositive() {
		return nil, ErrEmptyPool
	}

	amounts := prizepool.Split(pool.Balance, s.shares, len(entries))
	p := &store.Payout{PeriodID: periodID, Pool: pool.Balance.String()}
	for i, amt := range amounts {
		e := entries[i]
		p.Winners = append(p.Winners, store.Winner{Rank: e.Rank, FID: e.FID, Score: e.Score, Amount: amt.String()})
	}
	return p, nil
}

// Distribute pays out a finished period. A completed period returns
// ErrAlreadyPaid; a failed earlier attempt is retried.
func (s *Service) Distribute(ctx context.Context, periodID string) (*store.Payout, error) {
	ended, err := s.schedule.Ended(periodID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
	}
	if !ended {
		return nil, ErrPeriodOpen
	}
	if prev, err := s.store.GetPayout(ctx, periodID); err == nil && prev.Status == store.PayoutCompleted {
		return prev, ErrAlreadyPaid
	}

	plan, err := s.Preview(ctx, periodID)
	if err != nil {
		return nil, err
	}
	claimed, err := s.store.ClaimPayout(ctx, plan)
	if errors.Is(err, store.ErrConflict) {
		if claimed != nil && claimed.Status == store.PayoutCompleted {
			return claimed, ErrAlreadyPaid
		}
		return claimed, ErrInProgress
	}
	if err != nil {
		return nil, err
	}
	s.logger.Printf("payout_claimed period=%s payout_id=%s pool=%s winners=%d", periodID, claimed.ID, claimed.Pool, len(claimed.Winners))

	req := prizepool.DistributeRequest{PeriodID: periodID}
	for _, w := range claimed.Winners {
		req.Recipients = append(req.Recipients, prizepool.Recipient{
			FID:     w.FID,
			Address: w.Address,
			Amount:  decimal.RequireFromString(w.Amount),
		})
	}

	receipt, relayErr := s.pool.Distribute(ctx, req)
	if relayErr != nil {
		claimed.Status = store.PayoutFailed
		claimed.Error = relayErr.Error()
		s.logger.Printf("payout_failed period=%s payout_id=%s error=%q", periodID, claimed.ID, claimed.Error)
		// The request context may already be gone; the failure must still be recorded.
		if err := s.store.UpdatePayout(context.WithoutCancel(ctx), claimed); err != nil {
			return claimed, fmt.Errorf("payout: record failure: %w (relay: %v)", err, relayErr)
		}
		return claimed, fmt.Errorf("payout: distribute: %w", relayErr)
	}

	claimed.Status = store.PayoutCompleted
	claimed.TxHash = receipt.TxHash
	claimed.Error = ""
	if err := s.store.UpdatePayout(context.WithoutCancel(ctx), claimed); err != nil {
		return claimed, fmt.Errorf("payout: record completion of tx %s: %w", receipt.TxHash, err)
	}
	s.logger.Printf("payout_completed period=%s payout_id=%s tx=%s total=%s", periodID, claimed.ID, receipt.TxHash, req.Total())
	return claimed, nil
}
