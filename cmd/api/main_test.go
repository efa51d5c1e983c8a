package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"engageflow/apperr"
	"engageflow/event"
	"engageflow/logger"
)

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(context.Context) error {
	return s.err
}

type stubRechecker struct {
	gotID  string
	events []event.Event
	err    error
}

func (s *stubRechecker) Recheck(_ context.Context, contractID string) ([]event.Event, error) {
	s.gotID = contractID
	return s.events, s.err
}

func TestHealthz_OK(t *testing.T) {
	mux := newMux(&stubPinger{}, &stubRechecker{}, logger.NewNoOpLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestHealthz_DatabaseDown(t *testing.T) {
	mux := newMux(&stubPinger{err: errors.New("connection refused")}, &stubRechecker{}, logger.NewNoOpLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthz_WrongMethod(t *testing.T) {
	mux := newMux(&stubPinger{}, &stubRechecker{}, logger.NewNoOpLogger())

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := newMux(&stubPinger{}, &stubRechecker{}, logger.NewNoOpLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected default go collectors in metrics output")
	}
}

func TestRecheck_Success(t *testing.T) {
	cascade := &stubRechecker{events: []event.Event{
		{Type: event.ContractCompleted},
		{Type: event.ProjectCompleted},
	}}
	mux := newMux(&stubPinger{}, cascade, logger.NewNoOpLogger())

	req := httptest.NewRequest(http.MethodPost, "/admin/contracts/c-42/recheck", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cascade.gotID != "c-42" {
		t.Fatalf("expected contract id c-42, got %q", cascade.gotID)
	}

	var payload struct {
		ContractID string   `json:"contractId"`
		Events     []string `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Events) != 2 || payload.Events[0] != "contract.completed" || payload.Events[1] != "project.completed" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRecheck_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperr.NotFound("contract", "c-1"), http.StatusNotFound},
		{"invalid state", apperr.InvalidState("contract", "c-1", "contract is cancelled"), http.StatusConflict},
		{"validation", apperr.Validation("contract", "bad id"), http.StatusBadRequest},
		{"unauthorized", apperr.Unauthorized("contract", "c-1", "nope"), http.StatusForbidden},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newMux(&stubPinger{}, &stubRechecker{err: tc.err}, logger.NewNoOpLogger())

			req := httptest.NewRequest(http.MethodPost, "/admin/contracts/c-1/recheck", nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestRecheck_WrongMethod(t *testing.T) {
	mux := newMux(&stubPinger{}, &stubRechecker{}, logger.NewNoOpLogger())

	req := httptest.NewRequest(http.MethodGet, "/admin/contracts/c-1/recheck", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
