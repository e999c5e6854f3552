// Package web serves the JSON API and the execution event stream.
package web

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"github.com/vadiminshakov/accrue/internal/services/ledger"
	"github.com/vadiminshakov/accrue/internal/services/pricer"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const shutdownTimeout = 5 * time.Second

type portfolioService interface {
	Buy(instrumentID string, grossAmount, pricePerShare decimal.Decimal, feeRateBps int, opts ...ledger.TradeOption) (domain.BuyResult, error)
	Sell(instrumentID string, shares, pricePerShare decimal.Decimal) (domain.SellResult, error)
	Deposit(amount decimal.Decimal) (decimal.Decimal, error)
	Withdraw(amount decimal.Decimal) (decimal.Decimal, error)
	Snapshot() domain.Portfolio
	Trades() []domain.Trade
}

type quoteBook interface {
	Quote(instrumentID string) (pricer.Quote, bool)
	Prices() map[string]decimal.Decimal
}

type seriesSource interface {
	Series(ctx context.Context, instrumentID string, period domain.Period) (domain.PriceSeries, error)
}

type planService interface {
	Create(instrumentID string, amount decimal.Decimal, freq domain.Frequency) (domain.RecurringPurchase, error)
	Pause(id string) (domain.RecurringPurchase, error)
	Resume(id string) (domain.RecurringPurchase, error)
	Cancel(id string) (domain.RecurringPurchase, error)
	Plans(statuses ...domain.PlanStatus) []domain.RecurringPurchase
	Executions(planID string) []domain.ExecutionRecord
}

type rateService interface {
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type executionFeed interface {
	Subscribe() chan domain.ExecutionRecord
	Unsubscribe(ch chan domain.ExecutionRecord)
}

// Deps are the services behind the API.
type Deps struct {
	Portfolio  portfolioService
	Quotes     quoteBook
	Series     seriesSource
	Plans      planService
	Rates      rateService
	Executions executionFeed

	FeeRateBps   int
	QuoteTTL     time.Duration
	BaseCurrency string
}

// Server exposes the API over HTTP.
type Server struct {
	addr    string
	deps    Deps
	l       *zap.Logger
	limiter *clientLimiter
	clock   func() time.Time
	handler http.Handler
}

type Option func(*Server)

// WithRateLimit limits every client address to perSecond requests with burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = newClientLimiter(perSecond, burst)
	}
}

// WithClock replaces time.Now for quote expiry.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// NewServer creates the server and its routes.
func NewServer(l *zap.Logger, addr string, deps Deps, opts ...Option) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	s := &Server{
		addr:  addr,
		deps:  deps,
		l:     l.With(zap.String("component", "web")),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deps.QuoteTTL <= 0 {
		s.deps.QuoteTTL = 15 * time.Second
	}
	if s.deps.BaseCurrency == "" {
		s.deps.BaseCurrency = "USD"
	}

	s.handler = s.routes()
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	api.HandleFunc("/quote/{instrument}", s.handleQuote).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	api.HandleFunc("/buy", s.handleBuy).Methods(http.MethodPost)
	api.HandleFunc("/sell", s.handleSell).Methods(http.MethodPost)
	api.HandleFunc("/deposit", s.handleCash(s.deps.Portfolio.Deposit)).Methods(http.MethodPost)
	api.HandleFunc("/withdraw", s.handleCash(s.deps.Portfolio.Withdraw)).Methods(http.MethodPost)

	api.HandleFunc("/plans", s.handleListPlans).Methods(http.MethodGet)
	api.HandleFunc("/plans", s.handleCreatePlan).Methods(http.MethodPost)
	api.HandleFunc("/plans/{id}/{action:pause|resume|cancel}", s.handlePlanAction).Methods(http.MethodPost)
	api.HandleFunc("/executions", s.handleExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/stream", s.handleExecutionStream).Methods(http.MethodGet)

	api.HandleFunc("/series/{instrument}/{period}", s.handleSeries).Methods(http.MethodGet)
	api.HandleFunc("/rates/{from}/{to}", s.handleRate).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})

	if s.limiter != nil {
		api.Use(s.limiter.middleware)
	}
	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go s.shutdownOnDone(ctx, server)

	s.l.Info("web api listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "listen %s", s.addr)
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with ACME certificates for domains.
// A plain HTTP server on :80 answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go s.shutdownOnDone(ctx, httpSrv)
	go s.shutdownOnDone(ctx, httpsSrv)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme http server failed", zap.Error(err))
		}
	}()

	s.l.Info("web api listening with tls", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "listen tls %s", s.addr)
	}
	return nil
}

func (s *Server) shutdownOnDone(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.l.Warn("server shutdown", zap.String("addr", server.Addr), zap.Error(err))
	}
}
