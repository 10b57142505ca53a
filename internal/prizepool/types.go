package prizepool

import (
	"github.com/shopspring/decimal"
)

// USDCDecimals is the token precision of USDC.
const USDCDecimals = 6

// Pool is the prize pool as reported by the relay.
type Pool struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	Contract string          `json:"contract,omitempty"`
}

// Recipient is one transfer of a distribution.
type Recipient struct {
	FID     int64           `json:"fid"`
	Address string          `json:"address,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
}

// DistributeRequest pays out one period.
type DistributeRequest struct {
	PeriodID   string      `json:"periodId"`
	Recipients []Recipient `json:"recipients"`
}

// Total sums the recipient amounts.
func (r DistributeRequest) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, rc := range r.Recipients {
		sum = sum.Add(rc.Amount)
	}
	return sum
}

// Receipt confirms a submitted distribution transaction.
type Receipt struct {
	TxHash string `json:"txHash"`
}
