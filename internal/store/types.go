// Package store persists finished diagnostic sessions in SQLite.
package store

import "time"

// Session is the summary row of a stored session.
type Session struct {
	ID            string    `json:"id"`
	Table         string    `json:"table"`
	Layout        string    `json:"layout,omitempty"`
	Device        string    `json:"device,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Bytes         int       `json:"bytes"`
	Transitions   int       `json:"transitions"`
	Pressed       int       `json:"pressed"`
	Released      int       `json:"released"`
	Repeated      int       `json:"repeated"`
	LastPressed   string    `json:"last_pressed,omitempty"`
	Anomalies     int       `json:"anomalies"`
	CaptureDigest []byte    `json:"capture_digest,omitempty"`
	ExitReason    string    `json:"exit_reason,omitempty"`
}

// Duration returns the session length.
func (s *Session) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// AnomalyFilter narrows ListAnomalies.
type AnomalyFilter struct {
	Kind  string
	Limit int
}
