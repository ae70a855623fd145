package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/core/types"
)

// ReportStore reads persisted call reports. Get reports an unknown id with
// a core.ErrNotFound error.
type ReportStore interface {
	Get(ctx context.Context, sessionID string) (types.CallReport, error)
	Recent(ctx context.Context, limit int) ([]types.CallReport, error)
}

type reportsResponse struct {
	Reports []types.CallReport `json:"reports"`
}

// RecentReportsHandler handles GET /v1/calls/recent?limit=N.
type RecentReportsHandler struct {
	Store ReportStore
}

func (h RecentReportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("limit must be a positive integer", "limit"))
			return
		}
		limit = n
	}
	reports, err := h.Store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []types.CallReport{}
	}
	writeJSON(w, http.StatusOK, reportsResponse{Reports: reports})
}

// ReportHandler handles GET /v1/calls/{id}.
type ReportHandler struct {
	Store ReportStore
}

func (h ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("call id is required", "id"))
		return
	}
	report, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
