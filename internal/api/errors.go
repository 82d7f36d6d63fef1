package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/query"
	"github.com/zoravur/livesql/internal/reactive"
	"github.com/zoravur/livesql/pkg/sqlast"
)

// classify maps an error to an HTTP status and a short kind name.
func classify(err error) (int, string) {
	var (
		perr *sqlast.ParseError
		verr *query.ValidationError
		terr *query.TranslationError
		serr *reactive.SourceError
	)
	switch {
	case errors.Is(err, sqlast.ErrEmptyQuery), errors.As(err, &verr):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &perr):
		return http.StatusBadRequest, "parse"
	case errors.As(err, &terr):
		return http.StatusBadRequest, "translation"
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &serr):
		return http.StatusBadGateway, "source"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= 500 {
		L(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
