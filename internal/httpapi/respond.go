// Package httpapi implements Stratum's HTTP surface: the ingestion API
// (C1, §4.2) and the query API (C9, §4.9), sharing one JSON error
// envelope and one optional API-key auth gate (§7).
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/stratumhq/stratum/internal/apierr"
)

// errorResponse is the fixed §7 error envelope: {error, detail?}.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its fixed §7 HTTP status and serializes it as
// the JSON error envelope. Any error that isn't an *apierr.Error
// collapses to Internal/500.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusFor(err)
	resp := errorResponse{Error: string(apierr.KindOf(err))}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeJSONBody reads and decodes a JSON request body, capped at 1MB;
// the query and chat payloads are small compared to ingest batches.
func decodeJSONBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// newSessionID mints a session identifier for callers that did not
// supply one, so /api/chat and /api/ask can still carry conversation
// memory within their own request lifetime (§4.7 session store).
func newSessionID() string {
	return uuid.NewString()
}
