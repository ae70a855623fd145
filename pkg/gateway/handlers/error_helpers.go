package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-coach/pkg/core"
	"github.com/vango-go/vai-coach/pkg/gateway/apierror"
	"github.com/vango-go/vai-coach/pkg/gateway/mw"
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, err, reqID)
}

func writeCoreError(w http.ResponseWriter, r *http.Request, status int, coreErr *core.Error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	apierror.WriteError(w, status, coreErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeCoreError(w, r, http.StatusMethodNotAllowed, &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	})
}
