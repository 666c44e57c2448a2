package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/beadhub/beadhub/internal/apierr"
)

// writeJSON encodes v as the response body with status and a JSON content
// type. Encoding failures are swallowed: headers are already written by
// the time json.Marshal could fail on a well-formed Go value, so there is
// nothing left to do but let the client see a truncated body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorDetail is the spec.md §6 error envelope: {"detail": "<message>"}.
type errorDetail struct {
	Detail string `json:"detail"`
}

// writeError converts err to the spec.md §7 taxonomy's HTTP status and
// writes the error envelope. Non-apierr errors are treated as
// apierr.Internal — an unexpected 500, never leaked in detail beyond
// "internal error".
func writeError(w http.ResponseWriter, err error) {
	apiErr := apierr.As(err)
	status := apiErr.Status()
	detail := apiErr.Message
	if status == http.StatusInternalServerError {
		detail = "internal error"
	}
	writeJSON(w, status, errorDetail{Detail: detail})
}

// claimRejected is the structured conflict body spec.md §7 requires for
// bead-claim conflicts, so a CLI can render it without parsing free text.
type claimRejected struct {
	ClaimRejected       bool   `json:"claim_rejected"`
	ClaimRejectedReason string `json:"claim_rejected_reason"`
}

func writeClaimRejected(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusConflict, claimRejected{ClaimRejected: true, ClaimRejectedReason: reason})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Validationf("malformed request body: %s", err)
	}
	return nil
}
