package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
)

type holdingView struct {
	domain.Holding
	Price         *decimal.Decimal `json:"price,omitempty"`
	MarketValue   *decimal.Decimal `json:"market_value,omitempty"`
	UnrealizedPnL *domain.Change   `json:"unrealized_pnl,omitempty"`
}

type portfolioView struct {
	CashBalance  decimal.Decimal `json:"cash_balance"`
	Valuation    decimal.Decimal `json:"valuation"`
	Total        decimal.Decimal `json:"total"`
	BaseCurrency string          `json:"base_currency"`
	Version      uint64          `json:"version"`
	Holdings     []holdingView   `json:"holdings"`
}

type quoteView struct {
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	At           time.Time       `json:"at"`
	ValidUntil   time.Time       `json:"valid_until"`
}

type buyRequest struct {
	InstrumentID string          `json:"instrument_id"`
	Amount       decimal.Decimal `json:"amount"`
	// Price pins the quote the user accepted. Empty uses the last known price.
	Price *decimal.Decimal `json:"price,omitempty"`
}

type sellRequest struct {
	InstrumentID string           `json:"instrument_id"`
	Shares       decimal.Decimal  `json:"shares"`
	Price        *decimal.Decimal `json:"price,omitempty"`
}

type cashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type cashResponse struct {
	CashBalance decimal.Decimal `json:"cash_balance"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Portfolio.Snapshot()
	prices := s.deps.Quotes.Prices()

	view := portfolioView{
		CashBalance:  snap.CashBalance,
		Valuation:    snap.Valuation(prices),
		BaseCurrency: s.deps.BaseCurrency,
		Version:      snap.Version,
		Holdings:     make([]holdingView, 0, len(snap.Holdings)),
	}
	view.Total = view.CashBalance.Add(view.Valuation)

	for _, id := range snap.InstrumentIDs() {
		h := snap.Holdings[id]
		hv := holdingView{Holding: h}
		if price, ok := prices[id]; ok {
			value := h.MarketValue(price)
			pnl := h.UnrealizedPnL(price)
			hv.Price, hv.MarketValue, hv.UnrealizedPnL = &price, &value, &pnl
		}
		view.Holdings = append(view.Holdings, hv)
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(mux.Vars(r)["instrument"])
	q, ok := s.deps.Quotes.Quote(id)
	if !ok {
		s.fail(w, r, errors.Wrapf(domain.ErrPriceUnavailable, "no recent price for %s", id))
		return
	}
	writeJSON(w, http.StatusOK, quoteView{
		InstrumentID: q.InstrumentID,
		Price:        q.Price,
		At:           q.At,
		ValidUntil:   s.clock().Add(s.deps.QuoteTTL),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Portfolio.Trades())
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := strings.ToUpper(strings.TrimSpace(req.InstrumentID))
	price, err := s.priceFor(id, req.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.deps.Portfolio.Buy(id, req.Amount, price, s.deps.FeeRateBps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := strings.ToUpper(strings.TrimSpace(req.InstrumentID))
	price, err := s.priceFor(id, req.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.deps.Portfolio.Sell(id, req.Shares, price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCash(move func(decimal.Decimal) (decimal.Decimal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cashRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		cash, err := move(req.Amount)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cashResponse{CashBalance: cash})
	}
}

func (s *Server) priceFor(instrumentID string, pinned *decimal.Decimal) (decimal.Decimal, error) {
	if pinned != nil {
		return *pinned, nil
	}
	q, ok := s.deps.Quotes.Quote(instrumentID)
	if !ok {
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "no recent price for %q", instrumentID)
	}
	return q.Price, nil
}
