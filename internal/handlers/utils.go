package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jason-s-yu/typerace/internal/lobby"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// statusFor maps a lobby error to an HTTP status.
func statusFor(err error) int {
	switch lobby.KindOf(err) {
	case lobby.KindInvalid, lobby.KindConflict:
		return http.StatusBadRequest
	case lobby.KindNotFound:
		return http.StatusNotFound
	case lobby.KindUnauthorized:
		return http.StatusUnauthorized
	case lobby.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err to the client. Store and unexpected failures are
// logged and replaced by a generic message.
func respondError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("lobby request failed: %v", err)
	}
	writeError(w, status, lobby.CodeOf(err), lobby.PublicMessage(err))
}
