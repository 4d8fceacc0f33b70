package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"call-monitoring-service/internal/schema"
	"call-monitoring-service/internal/service/audio"
	"call-monitoring-service/internal/service/llm"
	"call-monitoring-service/internal/service/meet"
	"call-monitoring-service/internal/service/stt"
	"call-monitoring-service/internal/service/upload"
	"call-monitoring-service/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Write response")
	}
}

func writeError(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	var (
		uve *upload.ValidationError
		sve *schema.ValidationError
		pe  *llm.ProviderError
		pre *llm.ParseError
		te  *stt.TranscriptionError
		ce  *audio.ConversionError
		rfe *meet.RemoteFetchError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &uve):
		return http.StatusBadRequest
	case errors.As(err, &sve):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe) && pe.Timeout:
		return http.StatusGatewayTimeout
	case errors.As(err, &pe), errors.As(err, &pre), errors.As(err, &te), errors.As(err, &ce), errors.As(err, &rfe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an error response. Internal errors are logged and
// their text withheld.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}

	var sve *schema.ValidationError
	if errors.As(err, &sve) {
		writeError(w, status, sve.Problems)
		return
	}
	writeError(w, status, err.Error())
}
