package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"` // seconds
}

// Health reports liveness and process uptime.
func Health(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Success:   true,
			Message:   "Server is running",
			Timestamp: time.Now().UTC(),
			Uptime:    time.Since(started).Seconds(),
		})
	}
}
