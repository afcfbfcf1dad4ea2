package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one send attempt. Keep it compact and schema-stable.
type DeliveryRecord struct {
	At         time.Time `json:"at"`
	BatchID    string    `json:"batch_id"`
	Reason     string    `json:"reason"`
	Events     int       `json:"events"`
	Rendered   int       `json:"rendered"`
	Suppressed int       `json:"suppressed"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms"`
	Titles     string    `json:"titles,omitempty"`
}
