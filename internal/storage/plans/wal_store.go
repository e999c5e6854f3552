// Package plans journals recurring purchase plans and their execution records.
package plans

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/accrue/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultPlansDir   = "./wal/plans"
	planSegmentLimit  = 1000
	planMaxSegments   = 1000
	planKeyPrefix     = "plan_"
)

type record struct {
	Plan      domain.RecurringPurchase `json:"plan"`
	Execution *domain.ExecutionRecord  `json:"execution,omitempty"`
}

// WALStore persists every plan change, together with the execution record
// that caused it when there is one.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewWALStore opens (or creates) the plans WAL under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultPlansDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "plans_",
		SegmentThreshold: planSegmentLimit,
		MaxSegments:      planMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init plans WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the plan state and, optionally, the execution that produced it.
func (s *WALStore) Save(plan domain.RecurringPurchase, exec *domain.ExecutionRecord) error {
	if s == nil || s.wal == nil {
		return errors.New("plans store is not initialized")
	}
	if plan.ID == "" {
		return errors.New("plan id is required")
	}

	payload, err := json.Marshal(record{Plan: plan, Execution: exec})
	if err != nil {
		return errors.Wrap(err, "marshal plan")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Write(s.wal.CurrentIndex()+1, planKeyPrefix+plan.ID, payload); err != nil {
		return errors.Wrapf(err, "write plan %s", plan.ID)
	}
	return nil
}

// Load replays the WAL. Plans come back in creation order with their latest
// state; executions come back in the order they were recorded.
func (s *WALStore) Load() ([]domain.RecurringPurchase, []domain.ExecutionRecord, error) {
	if s == nil || s.wal == nil {
		return nil, nil, errors.New("plans store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		order      []string
		latest     = make(map[string]domain.RecurringPurchase)
		executions []domain.ExecutionRecord
	)
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, planKeyPrefix) {
			continue
		}
		var rec record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return nil, nil, errors.Wrapf(err, "decode %s", msg.Key)
		}
		if _, seen := latest[rec.Plan.ID]; !seen {
			order = append(order, rec.Plan.ID)
		}
		latest[rec.Plan.ID] = rec.Plan
		if rec.Execution != nil {
			executions = append(executions, *rec.Execution)
		}
	}

	out := make([]domain.RecurringPurchase, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, executions, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("plans store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
