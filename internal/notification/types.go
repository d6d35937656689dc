// Package notification delivers match alerts to users over email and push.
//
// The Dispatcher fans one event out to every registered channel sender
// concurrently; a failing channel is logged and never blocks the others.
// Recipient contact details are looked up through the Directory so the
// matching core only deals in user ids.
package notification

import "github.com/dadmatch/dadmatch/internal/database"

// Channel represents a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Type represents the category of notification.
type Type string

const (
	TypeNewMatch        Type = "new_match"        // A fresh match appeared for the user
	TypeScheduleUpdated Type = "schedule_updated" // Confirmation after submitting availability
)

// MatchAlert summarizes one freshly discovered match for delivery.
type MatchAlert struct {
	FromUserID  string               `json:"from_user_id"`
	ToUserID    string               `json:"to_user_id"`
	FromName    string               `json:"from_name"`
	SharedSlots database.SharedSlots `json:"shared_slots"`
	Score       int                  `json:"score"`
	DistanceKm  string               `json:"distance_km"`
}

// Contact holds the delivery addresses for one user.
type Contact struct {
	UserID    string
	Name      string
	Email     string
	PushToken string
}

// Message is a channel-agnostic notification handed to senders. Senders pick
// the address they need from the contact.
type Message struct {
	Type    Type
	To      Contact
	Subject string
	Body    string
	Data    map[string]string
}

// SendResult reports one delivery attempt.
type SendResult struct {
	Success bool
	Error   error
}
