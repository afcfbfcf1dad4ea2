package notifier

import "time"

// Config controls rendering and delivery.
type Config struct {
	DestinationURL  string
	QueueMax        int
	Username        string
	ServerName      string
	EscapeFirstOnly bool
	// SendTimeout bounds one webhook call, including rate-limit waiting.
	SendTimeout time.Duration
}

// Outcome describes one delivery attempt. It is published on the event bus
// and recorded in the delivery log.
type Outcome struct {
	BatchID    string        `json:"batch_id"`
	Reason     string        `json:"reason"`
	At         time.Time     `json:"at"`
	Events     int           `json:"events"`
	Rendered   int           `json:"rendered"`
	Suppressed int           `json:"suppressed"`
	Titles     []string      `json:"titles,omitempty"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
	Took       time.Duration `json:"took"`
}
