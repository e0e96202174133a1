package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/cryptox"
	"github.com/dmitrijs2005/mailvault/internal/server/outlook"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain and upstream failures onto HTTP statuses. Upstream
// classifications pass through: a throttle stays 429 so the frontend can back
// off, an unreachable upstream is a 502, a dead credential is a 401 with the
// upstream code attached.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *outlook.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case outlook.KindNotFound:
			writeJSON(w, http.StatusNotFound, errorResponse{Error: apiErr.Message, Code: apiErr.Code})
		case outlook.KindRateLimited:
			if apiErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", formatSeconds(apiErr.RetryAfter))
			}
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: apiErr.Message, Code: apiErr.Code})
		case outlook.KindInvalidGrant:
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: apiErr.Message, Code: apiErr.Code})
		default:
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: apiErr.Message, Code: apiErr.Code})
		}
		return
	}

	switch {
	case errors.Is(err, common.ErrorValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, common.ErrorForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, common.ErrorNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, common.ErrorDuplicate):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, cryptox.ErrCipher):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "stored secret cannot be decrypted with the configured key"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int((d + time.Second - 1) / time.Second))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.ErrorValidation
	}
	return nil
}
