package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind is the type of a ledger movement.
type TradeKind string

const (
	TradeKindBuy      TradeKind = "buy"
	TradeKindSell     TradeKind = "sell"
	TradeKindDeposit  TradeKind = "deposit"
	TradeKindWithdraw TradeKind = "withdraw"
)

// Trade is an immutable record of a committed ledger mutation.
type Trade struct {
	ID           string          `json:"id"`
	Kind         TradeKind       `json:"kind"`
	InstrumentID string          `json:"instrument_id,omitempty"`
	Shares       decimal.Decimal `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	// Amount is the cash moved: the gross debit of a buy, the proceeds of a sell.
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	// Reference is the caller supplied idempotency key, if any.
	Reference  string    `json:"reference,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// BuyResult is the outcome of a successful buy.
type BuyResult struct {
	SharesAcquired decimal.Decimal `json:"shares_acquired"`
	FeeCharged     decimal.Decimal `json:"fee_charged"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	TradeID        string          `json:"trade_id"`
}

// SellResult is the outcome of a successful sell.
type SellResult struct {
	Proceeds    decimal.Decimal `json:"proceeds"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	TradeID     string          `json:"trade_id"`
}

// BasisPointsDivisor converts basis points into a fraction.
const BasisPointsDivisor = 10000

// MaxFeeRateBps caps the fee at the whole gross amount.
const MaxFeeRateBps = BasisPointsDivisor

// QuoteBuy computes fee, net amount and shares for a gross buy.
// The fee comes out of the gross amount before converting to shares.
func QuoteBuy(gross, pricePerShare decimal.Decimal, feeRateBps int) (BuyResult, error) {
	if !gross.IsPositive() {
		return BuyResult{}, invalidf("gross amount must be positive, got %s", gross.String())
	}
	if !pricePerShare.IsPositive() {
		return BuyResult{}, invalidf("price per share must be positive, got %s", pricePerShare.String())
	}
	if feeRateBps < 0 || feeRateBps > MaxFeeRateBps {
		return BuyResult{}, invalidf("fee rate must be within [0, %d] bps, got %d", MaxFeeRateBps, feeRateBps)
	}

	fee := gross.Mul(decimal.NewFromInt(int64(feeRateBps))).Div(decimal.NewFromInt(BasisPointsDivisor))
	net := gross.Sub(fee)

	return BuyResult{
		SharesAcquired: net.Div(pricePerShare),
		FeeCharged:     fee,
		NetAmount:      net,
	}, nil
}
