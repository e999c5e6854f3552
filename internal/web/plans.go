package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/accrue/internal/domain"
	"go.uber.org/zap"
)

const heartbeatInterval = 30 * time.Second

type createPlanRequest struct {
	InstrumentID string          `json:"instrument_id"`
	Amount       decimal.Decimal `json:"amount"`
	Frequency    string          `json:"frequency"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.PlanStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, err := domain.ParsePlanStatus(part)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			statuses = append(statuses, st)
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Plans.Plans(statuses...))
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	freq, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	plan, err := s.deps.Plans.Create(strings.ToUpper(strings.TrimSpace(req.InstrumentID)), req.Amount, freq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handlePlanAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var (
		plan domain.RecurringPurchase
		err  error
	)
	switch vars["action"] {
	case "pause":
		plan, err = s.deps.Plans.Pause(id)
	case "resume":
		plan, err = s.deps.Plans.Resume(id)
	case "cancel":
		plan, err = s.deps.Plans.Cancel(id)
	default:
		err = errors.Wrapf(domain.ErrInvalidArgument, "unknown action %q", vars["action"])
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Plans.Executions(r.URL.Query().Get("plan_id")))
}

func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Executions == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternal, "execution stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}
	planID := r.URL.Query().Get("plan_id")

	ch := s.deps.Executions.Subscribe()
	defer s.deps.Executions.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	// comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if planID != "" && rec.RecurringPurchaseID != planID {
				continue
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				s.l.Warn("encode execution", zap.String("execution_id", rec.ID), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %s\n", rec.ID)
			fmt.Fprint(w, "event: execution\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
