package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
)

// errorEntry is one element of the errors envelope. Field is set for
// validation failures that name a payload field.
type errorEntry struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteData wraps the payload in the success envelope {"data": ...}.
func WriteData(w http.ResponseWriter, statusCode int, payload any) error {
	return WriteJSON(w, statusCode, map[string]any{"data": payload})
}

// WriteError maps an error to its HTTP status and writes the errors envelope
// {"errors": [{message, field?}]}. Unclassified errors read as internal; their
// cause never reaches the wire.
func WriteError(w http.ResponseWriter, err error) error {
	ae := apperrors.Classify(err)

	entries := make([]errorEntry, 0, 1+len(ae.Fields))
	if len(ae.Fields) > 0 {
		for _, fe := range ae.Fields {
			entries = append(entries, errorEntry{Message: fe.Message, Field: fe.Field})
		}
	} else {
		entries = append(entries, errorEntry{Message: ae.Error()})
	}

	return WriteJSON(w, apperrors.HTTPStatus(ae), map[string]any{"errors": entries})
}
