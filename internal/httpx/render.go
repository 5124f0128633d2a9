package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/sporehub/marketplace/internal/apperr"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Internal errors keep
// their detail server-side and return a generic message.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	var code int
	msg := err.Error()
	switch kind {
	case apperr.KindValidation:
		code = http.StatusBadRequest
	case apperr.KindNotFound:
		code = http.StatusNotFound
	case apperr.KindConflict:
		code = http.StatusConflict
	case apperr.KindForbidden:
		code = http.StatusForbidden
	default:
		code = http.StatusInternalServerError
		logrus.WithError(err).Error("internal error")
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg, "kind": kind.String()})
}
