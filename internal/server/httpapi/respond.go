package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/logging"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the common taxonomy onto HTTP. Unknown errors are logged
// and reported as a bare internal error.
func writeError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	var (
		ve *common.ValidationError
		rl *common.RateLimitError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation error", Fields: ve.Fields})
	case errors.Is(err, common.ErrorValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation error"})
	case errors.Is(err, common.ErrorNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, common.ErrorConflict):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: conflictMessage(err)})
	case errors.As(err, &rl):
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
	case errors.Is(err, common.ErrorUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.Is(err, common.ErrorMergeFailed):
		logger.Error(r.Context(), "request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: common.ErrorMergeFailed.Error()})
	default:
		logger.Error(r.Context(), "request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: common.ErrorInternal.Error()})
	}
}

// conflictMessage returns the explanation in front of the sentinel, if any.
func conflictMessage(err error) string {
	msg, found := strings.CutSuffix(err.Error(), ": "+common.ErrorConflict.Error())
	if !found || msg == "" {
		return common.ErrorConflict.Error()
	}
	return msg
}
