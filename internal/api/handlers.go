package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/common"
	"github.com/zoravur/livesql/internal/query"
	"github.com/zoravur/livesql/internal/reactive"
)

const maxBody = 1 << 20

func readSQL(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// POST /api/query
// Body: raw SQL. ?editable=true wraps every cell with its edit handle.
func (h *handlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	sql, err := readSQL(r)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	p, err := h.engine.Plan(sql)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rs, err := h.engine.Query(r.Context(), sql)
	if err != nil {
		writeError(w, r, err)
		return
	}
	L(r.Context()).Debug("query answered", zap.Int("rows", len(rs)))

	if editable, _ := strconv.ParseBool(r.URL.Query().Get("editable")); editable {
		writeJSON(w, http.StatusOK, reactive.SerializeEditableRows(p, rs))
		return
	}
	writeJSON(w, http.StatusOK, rs.Rows())
}

// POST /api/explain
// Body: raw SQL. Responds with the native queries it translates to.
func (h *handlers) handleExplain(w http.ResponseWriter, r *http.Request) {
	sql, err := readSQL(r)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	p, err := h.engine.Plan(sql)
	if err != nil {
		writeError(w, r, err)
		return
	}
	queries := make([]string, len(p.Queries))
	for i, q := range p.Queries {
		queries[i] = q.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queries":       queries,
		"unionOrdering": p.Options.UnionOrdering.String(),
		"explain":       p.Explain(),
	})
}

// GET /api/live
func (h *handlers) handleLiveQueries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Registry().SnapshotView())
}

// PUT /api/collections/{collection}/docs/{key}
func (h *handlers) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&data); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	collection, err := h.collection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.Put(r.Context(), collection, chi.URLParam(r, "key"), data); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/collections/{collection}/docs/{key}
func (h *handlers) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	collection, err := h.collection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.Delete(r.Context(), collection, chi.URLParam(r, "key")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) collection(r *http.Request) (string, error) {
	return query.ResolveCollection(h.root, chi.URLParam(r, "collection"))
}

type EditRequest struct {
	EditHandle string `json:"editHandle"`
	Value      any    `json:"value"`
}

// POST /api/edit
// Writes one cell of an editable result row back to its document.
func (h *handlers) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	collection, key, field, err := common.DecodeHandle(req.EditHandle)
	if err != nil {
		http.Error(w, "invalid handle: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !query.WithinRoot(h.root, collection) {
		writeError(w, r, &query.ValidationError{Reason: fmt.Sprintf("collection %q is outside %q", collection, h.root)})
		return
	}

	if err := h.store.SetField(r.Context(), collection, key, field, req.Value); err != nil {
		writeError(w, r, err)
		return
	}
	L(r.Context()).Info("cell edited",
		zap.String("collection", collection), zap.String("key", key), zap.String("field", field))
	w.WriteHeader(http.StatusNoContent)
}
