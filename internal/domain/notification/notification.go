// Package notification defines the payload and delivery-outcome types
// shared by the Dispatcher, Registry offline queue, and Pump feeders.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification is the opaque record routed by the delivery core (spec
// entity N). Fields beyond these are never interpreted by the core.
type Notification struct {
	UserID    string `json:"user_id"`
	Event     string `json:"event"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id,omitempty"`
}

// New stamps a Notification with an ID and the current time. Callers
// that already have a persisted ID (a row read off the pending table)
// should set n.ID after the fact rather than trusting this one.
func New(userID, event, message string) Notification {
	return Notification{
		UserID:    userID,
		Event:     event,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.NewString(),
	}
}

// Result is the outcome of a single Dispatcher.Deliver call.
type Result int

const (
	// Delivered means the payload was pushed to a live local socket.
	Delivered Result = iota + 1
	// Queued means the payload was appended to the user's offline queue.
	Queued
	// Dropped means the payload was neither delivered nor queued (an
	// empty message, a live binding owned by another server process, or
	// a registry fault that also broke the queue write).
	Dropped
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// CountSnapshot is the notification-count breakdown the Initial-State
// Responder sends on a successful socket open.
type CountSnapshot struct {
	SystemNotifications  int `json:"system_notifications"`
	GeneralNotices       int `json:"general_notices"`
	PersonalNotifications int `json:"personal_notifications"`
	Announcements        int `json:"announcements,omitempty"`
}
