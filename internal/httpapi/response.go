package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
)

// envelope is the uniform JSON body every handler writes (spec §4.C).
// data is heterogeneous by design — modeled as an opaque `any` per
// endpoint rather than one shared shape (spec §9 design notes).
type envelope struct {
	Status  apierr.Status `json:"status"`
	Message string        `json:"message"`
	Data    any           `json:"data,omitempty"`
}

// writeJSON writes payload as a JSON response with status=0 (success).
func writeJSON(w http.ResponseWriter, data any) {
	writeEnvelope(w, apierr.StatusOK, "ok", data)
}

// writeJSONMessage writes a success envelope with a custom message.
func writeJSONMessage(w http.ResponseWriter, message string, data any) {
	writeEnvelope(w, apierr.StatusOK, message, data)
}

// writeError converts an *apierr.Error into the envelope. HTTP status is
// almost always 200 — only unauthorized and panic map to a distinct code
// (spec §4.C, §7).
func writeError(w http.ResponseWriter, err *apierr.Error) {
	writeEnvelope(w, err.Status, err.Message, nil)
}

func writeEnvelope(w http.ResponseWriter, status apierr.Status, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status.HTTPStatus())
	_ = json.NewEncoder(w).Encode(envelope{Status: status, Message: message, Data: data})
}

// base64Encode is the standard-alphabet encoding used for binary file
// content in the read JSON response (spec §4.E).
func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// decodeJSON decodes the request body into dst, capping it at 32 MiB of
// JSON metadata (file content itself goes through the raw/multipart wire
// modes, not this path). Returns a validation *apierr.Error on failure so
// callers can return it directly.
func decodeJSON(r *http.Request, dst any) *apierr.Error {
	r.Body = http.MaxBytesReader(nil, r.Body, 32<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.Validation("invalid request body: " + err.Error())
	}
	return nil
}
