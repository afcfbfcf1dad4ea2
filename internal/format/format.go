// Package format turns a drained batch of lifecycle events into one chat
// webhook payload.
//
// Build is pure: the host name and the clock are passed in, so the same input
// always renders the same payload.
package format

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"procnotify/internal/event"
)

// OverflowTitle is the title of the synthetic attachment that reports
// suppressed events.
const OverflowTitle = "message rate limitation"

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Username    string       `json:"username"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is one rendered group of merged events.
type Attachment struct {
	Fallback string `json:"fallback,omitempty"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	TS       int64  `json:"ts"`
}

// HostIdentity returns the name of the local host.
type HostIdentity func() string

// OSHostname is the default HostIdentity.
func OSHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// Options control rendering.
type Options struct {
	// QueueMax caps the number of events rendered; <= 0 renders all.
	QueueMax int
	// Username and ServerName override the sender identity, in that order.
	Username   string
	ServerName string
	// EscapeFirstOnly escapes only the first &, < and > of each field.
	EscapeFirstOnly bool
	Host            HostIdentity
}

// Result carries the payload plus the counts callers log.
type Result struct {
	Payload    Payload
	Rendered   int
	Suppressed int
}

// Build renders events into a payload. now stamps the overflow notice.
func Build(events []event.Event, opt Options, now time.Time) Result {
	kept := events
	suppressed := 0
	if opt.QueueMax > 0 && len(events) > opt.QueueMax {
		kept = events[:opt.QueueMax]
		suppressed = len(events) - opt.QueueMax
	}

	escape := escapeAll
	if opt.EscapeFirstOnly {
		escape = escapeFirst
	}

	groups := mergeAdjacent(kept)
	attachments := make([]Attachment, 0, len(groups)+1)
	for _, g := range groups {
		attachments = append(attachments, render(g, escape))
	}
	if suppressed > 0 {
		attachments = append(attachments, overflowNotice(suppressed, now))
	}

	p := Payload{
		Username:    senderName(opt),
		Attachments: attachments,
	}
	if len(attachments) > 1 {
		titles := make([]string, len(attachments))
		for i, a := range attachments {
			titles[i] = a.Title
		}
		p.Text = strings.Join(titles, ", ")
	}
	return Result{Payload: p, Rendered: len(kept), Suppressed: suppressed}
}

func senderName(opt Options) string {
	if u := strings.TrimSpace(opt.Username); u != "" {
		return u
	}
	if s := strings.TrimSpace(opt.ServerName); s != "" {
		return s
	}
	if opt.Host != nil {
		return opt.Host()
	}
	return OSHostname()
}

// mergeAdjacent folds consecutive events with the same (name, event) into one,
// joining descriptions with a newline. Input is not modified.
func mergeAdjacent(events []event.Event) []event.Event {
	out := make([]event.Event, 0, len(events))
	for _, e := range events {
		if n := len(out); n > 0 && out[n-1].Key() == e.Key() {
			out[n-1].Description += "\n" + e.Description
			continue
		}
		out = append(out, e)
	}
	return out
}

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

func render(e event.Event, escape func(string) string) Attachment {
	title := e.Name + " " + e.Event
	desc := strings.TrimSpace(e.Description)
	fallback := title
	if desc != "" {
		fallback += ": " + lineBreaks.ReplaceAllString(desc, ", ")
	}
	return Attachment{
		Fallback: escape(fallback),
		Title:    escape(title),
		Text:     escape(desc),
		TS:       e.Timestamp,
	}
}

func overflowNotice(n int, now time.Time) Attachment {
	text := "Next " + strconv.Itoa(n) + " message"
	if n > 1 {
		text += "s have "
	} else {
		text += " has "
	}
	text += "been suppressed."
	return Attachment{
		Title: OverflowTitle,
		Text:  text,
		TS:    now.Unix(),
	}
}
