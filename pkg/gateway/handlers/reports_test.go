package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/types"
	"github.com/vango-go/vai-coach/pkg/gateway/config"
	"github.com/vango-go/vai-coach/pkg/gateway/lifecycle"
)

type fakeReports struct {
	reports  []types.CallReport
	gotLimit int
	err      error
	pingErr  error
}

func (f *fakeReports) Get(_ context.Context, id string) (types.CallReport, error) {
	for _, r := range f.reports {
		if r.SessionID == id {
			return r, nil
		}
	}
	return types.CallReport{}, core.NewNotFoundError("call report not found")
}

func (f *fakeReports) Recent(_ context.Context, limit int) ([]types.CallReport, error) {
	f.gotLimit = limit
	return f.reports, f.err
}

func (f *fakeReports) Ping(context.Context) error { return f.pingErr }

func TestRecentReportsHandler(t *testing.T) {
	store := &fakeReports{reports: []types.CallReport{{
		SessionID: "call_1",
		StartedAt: time.Unix(1_700_000_000, 0).UTC(),
		EndReason: types.EndReasonOperator,
	}}}
	h := RecentReportsHandler{Store: store}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls/recent?limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if store.gotLimit != 5 {
		t.Fatalf("limit=%d", store.gotLimit)
	}
	var resp struct {
		Reports []types.CallReport `json:"reports"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Reports) != 1 || resp.Reports[0].SessionID != "call_1" {
		t.Fatalf("reports=%+v", resp.Reports)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls/recent?limit=-2", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", rr.Code)
	}

	store.err = errors.New("connection reset")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls/recent", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("store failure status=%d", rr.Code)
	}
}

func TestRecentReportsHandler_EmptyIsArray(t *testing.T) {
	rr := httptest.NewRecorder()
	RecentReportsHandler{Store: &fakeReports{}}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls/recent", nil))
	if got := rr.Body.String(); got != "{\"reports\":[]}\n" {
		t.Fatalf("body=%q", got)
	}
}

func TestReportHandler(t *testing.T) {
	store := &fakeReports{reports: []types.CallReport{{SessionID: "call_1"}}}
	mux := http.NewServeMux()
	mux.Handle("/v1/calls/{id}", ReportHandler{Store: store})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls/call_1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/calls/call_404", nil))
	if rr.Code != http.StatusNotFound || decodeErrorType(t, rr.Body.Bytes()) != core.ErrNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name     string
		draining bool
		store    Pinger
		want     int
	}{
		{name: "ready", want: http.StatusOK},
		{name: "ready with store", store: &fakeReports{}, want: http.StatusOK},
		{name: "draining", draining: true, want: http.StatusServiceUnavailable},
		{name: "database down", store: &fakeReports{pingErr: errors.New("refused")}, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := &lifecycle.Lifecycle{}
			if tt.draining {
				lc.Drain()
			}
			h := ReadyHandler{Config: config.Config{LiveTransport: config.LiveTransportWebSocket}, Lifecycle: lc, Store: tt.store}

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tt.want {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			var resp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if ok, _ := resp["ok"].(bool); ok != (tt.want == http.StatusOK) {
				t.Fatalf("ok=%v", resp["ok"])
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
