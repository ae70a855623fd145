package handlers

import (
	"net/http"

	"github.com/vango-go/vai-coach/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCoreError(w, r, http.StatusNotFound, &core.Error{
		Type:    core.ErrNotFound,
		Message: "not found",
	})
}
