package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id             int
	EmailAddress   string
	Name           string
	Department     string
	AvatarUrl      string
	PasswordHash   string
	Role           string
	Suspended      bool
	SuspendedUntil sql.NullTime
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Room struct {
	Id                 int
	ExternalId         string
	Kind               string
	Name               string
	ListingId          sql.NullString
	LastMessageContent sql.NullString
	LastMessageSender  sql.NullInt64
	LastMessageAt      sql.NullTime
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Participants       []User
}

type Message struct {
	Id           int
	ExternalId   string
	RoomId       int
	SenderId     int
	SenderName   string
	SenderAvatar string
	Content      string
	CreatedAt    time.Time
}

type CreateAccountParams struct {
	EmailAddress string
	Name         string
	Department   string
	PasswordHash string
	Role         string
}

type UpdateAccountParams struct {
	AccountId  int
	Name       string
	Department string
	AvatarUrl  string
}

type CreateMessageParams struct {
	ExternalId string
	RoomId     int
	SenderId   int
	Content    string
}
