package types

import (
	"time"
)

const (
	RoomKindDirect = "direct"
	RoomKindGroup  = "group"
)

type User struct {
	Id           int       `json:"id"`
	Name         string    `json:"name"`
	EmailAddress string    `json:"email_address,omitempty"`
	Department   string    `json:"department,omitempty"`
	AvatarUrl    string    `json:"avatar_url,omitempty"`
	Role         string    `json:"role,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// LastMessage is the denormalized summary of the most recently accepted
// message in a room. It always reflects the latest persisted send.
type LastMessage struct {
	Content  string    `json:"content"`
	SenderId int       `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

type Room struct {
	Id           string       `json:"id"`
	Kind         string       `json:"kind"`
	Name         string       `json:"name,omitempty"`
	ListingId    string       `json:"listing_id,omitempty"`
	Participants []User       `json:"participants,omitempty"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at,omitempty"`
}

type Message struct {
	Id           string    `json:"id"`
	RoomId       string    `json:"room_id"`
	SenderId     int       `json:"sender_id"`
	SenderName   string    `json:"sender_name,omitempty"`
	SenderAvatar string    `json:"sender_avatar,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}
