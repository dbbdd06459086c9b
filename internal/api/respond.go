package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var errBadBody = errors.New("invalid JSON body")

// decodeBody parses a JSON object body. Type mismatches and trailing
// garbage are client errors, not panics.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	// A second value in the body is not a JSON object body.
	if dec.More() {
		return errBadBody
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// jsonMessage writes the plain {"message": ...} error shape.
func jsonMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
