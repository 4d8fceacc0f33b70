package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"call-monitoring-service/internal/models"
	"call-monitoring-service/internal/schema"
	"call-monitoring-service/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 100
	maxBodyBytes = 10 << 20
)

type pageParams struct {
	limit  int
	offset int
}

// parsePage reads limit (1..100, default 50) and offset (>= 0).
func parsePage(r *http.Request) (pageParams, error) {
	p := pageParams{limit: defaultLimit}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			return p, fmt.Errorf("limit must be an integer between 1 and %d", maxLimit)
		}
		p.limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("offset must be a non-negative integer")
		}
		p.offset = n
	}
	return p, nil
}

func (h *handlers) listCalls(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	calls, total, err := h.Store.ListCalls(r.Context(), store.CallFilter{
		Source: r.URL.Query().Get("source"),
		Limit:  p.limit,
		Offset: p.offset,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"calls":  calls,
		"total":  total,
		"limit":  p.limit,
		"offset": p.offset,
	})
}

func (h *handlers) getCall(w http.ResponseWriter, r *http.Request) {
	call, err := h.Store.GetCall(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *handlers) deleteCall(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteCall(r.Context(), chi.URLParam(r, "callID")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) analyzeRealtime(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := h.Validator.Validate(schema.RealtimeRequest, body); err != nil {
		fail(w, r, err)
		return
	}
	var req struct {
		SegmentText string `json:"segment_text"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if _, err := h.Store.GetCall(r.Context(), callID); err != nil {
		fail(w, r, err)
		return
	}
	a, err := h.Pipeline.Analyze(r.Context(), callID, models.KindRealtime, req.SegmentText)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"call_id": callID, "analysis": a.Payload})
}

func (h *handlers) reanalyze(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	a, err := h.Pipeline.Reanalyze(r.Context(), callID, models.KindPostCall)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"call_id": callID, "analysis": a})
}

func (h *handlers) listAnalyses(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	kind := models.AnalysisKind(r.URL.Query().Get("analysis_type"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("analysis_type must be %s or %s", models.KindPostCall, models.KindRealtime))
		return
	}

	analyses, total, err := h.Store.ListAnalyses(r.Context(), store.AnalysisFilter{
		CallID: r.URL.Query().Get("call_id"),
		Kind:   kind,
		Limit:  p.limit,
		Offset: p.offset,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": analyses,
		"total":    total,
		"limit":    p.limit,
		"offset":   p.offset,
	})
}
