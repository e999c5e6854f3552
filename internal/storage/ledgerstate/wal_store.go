// Package ledgerstate journals ledger mutations in a WAL so a restart restores
// cash, holdings and the trade log.
package ledgerstate

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/accrue/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultLedgerDir   = "./wal/ledger"
	ledgerSegmentLimit = 1000
	ledgerMaxSegments  = 1000
	mutationKey        = "ledger_mutation"
)

type record struct {
	Portfolio domain.Portfolio `json:"portfolio"`
	Trade     domain.Trade     `json:"trade"`
}

// WALStore writes one record per committed mutation: the resulting portfolio
// and the trade that produced it.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewWALStore opens (or creates) the ledger WAL under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultLedgerDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: ledgerSegmentLimit,
		MaxSegments:      ledgerMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Record appends a mutation. It returns only after the record is synced.
func (s *WALStore) Record(portfolio domain.Portfolio, trade domain.Trade) error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}

	payload, err := json.Marshal(record{Portfolio: portfolio, Trade: trade})
	if err != nil {
		return errors.Wrap(err, "marshal ledger mutation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Write(s.wal.CurrentIndex()+1, mutationKey, payload); err != nil {
		return errors.Wrapf(err, "write ledger mutation %s", trade.ID)
	}
	return nil
}

// Load replays the WAL. The portfolio of the newest record wins; a nil
// portfolio means nothing was ever recorded.
func (s *WALStore) Load() (*domain.Portfolio, []domain.Trade, error) {
	if s == nil || s.wal == nil {
		return nil, nil, errors.New("ledger store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		latest *domain.Portfolio
		trades []domain.Trade
	)
	for msg := range s.wal.Iterator() {
		if msg.Key != mutationKey {
			continue
		}
		var rec record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return nil, nil, errors.Wrap(err, "decode ledger mutation")
		}
		if latest != nil && rec.Portfolio.Version <= latest.Version {
			continue
		}
		if rec.Portfolio.Holdings == nil {
			rec.Portfolio.Holdings = make(map[string]domain.Holding)
		}
		p := rec.Portfolio
		latest = &p
		trades = append(trades, rec.Trade)
	}

	return latest, trades, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
