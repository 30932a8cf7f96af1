package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// FetchFailedNotice is shown alongside cached data after a failed refresh.
const FetchFailedNotice = "Could not fetch the latest user data. Showing the last users saved on this server; try refreshing again."

// Envelope is the standard API response wrapper used across handlers.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Notice is a dismissible banner for the client, set while the fetch-failed flag is up.
	Notice string `json:"notice,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// JSON writes a success or informational response using the common envelope.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, Envelope{Code: status, Message: message, Data: data})
}

// State writes data and attaches FetchFailedNotice when fetchFailed is set.
func State(w http.ResponseWriter, message string, fetchFailed bool, data any) {
	env := Envelope{Code: http.StatusOK, Message: message, Data: data}
	if fetchFailed {
		env.Notice = FetchFailedNotice
	}
	write(w, env)
}

// Error writes an error response with the shared envelope structure.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, Envelope{Code: status, Message: message})
}

func write(w http.ResponseWriter, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(payload.Code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("respond: encode payload failed", "err", err, "status", payload.Code)
	}
}
