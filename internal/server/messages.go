package server

import (
	"net/http"
	"time"

	"github.com/campusmeet/campuschat/internal/types"
)

// maxContentLength is the maximum number of characters in a chat message
// after trimming. Longer messages are truncated before persisting.
const maxContentLength = 2000

type BaseEvent struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientEvent struct {
	BaseEvent
	Join   *JoinRoom    `json:"join_room,omitempty"`
	Leave  *LeaveRoom   `json:"leave_room,omitempty"`
	Send   *SendMessage `json:"send_message,omitempty"`
	Typing *Typing      `json:"typing,omitempty"`
	UserId int          `json:"-"`
	client *Client      `json:"-"`
}

type JoinRoom struct {
	RoomId string `json:"room_id"`
}

type LeaveRoom struct {
	RoomId string `json:"room_id"`
}

type SendMessage struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type Typing struct {
	RoomId   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type ServerEvent struct {
	BaseEvent
	Joined     *JoinedRoom    `json:"joined_room,omitempty"`
	Message    *types.Message `json:"new_message,omitempty"`
	Typing     *UserTyping    `json:"user_typing,omitempty"`
	Activity   *RoomActivity  `json:"room_activity,omitempty"`
	Error      *ErrorEvent    `json:"error,omitempty"`
	UserId     int            `json:"-"`
	SkipClient *Client        `json:"-"`
}

// RoomActivity tells a user without a session in a room that its
// conversation summary changed.
type RoomActivity struct {
	RoomId      string            `json:"room_id"`
	LastMessage types.LastMessage `json:"last_message"`
}

type JoinedRoom struct {
	Room types.Room `json:"room"`
}

type UserTyping struct {
	RoomId   string `json:"room_id"`
	UserId   int    `json:"user_id"`
	Name     string `json:"name"`
	IsTyping bool   `json:"is_typing"`
}

type ErrorEvent struct {
	ResponseCode int    `json:"response_code"`
	Message      string `json:"message"`
}

func JoinedOK(id int, room types.Room) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Joined: &JoinedRoom{Room: room},
	}
}

func ErrRoomNotFound(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Error: &ErrorEvent{
			ResponseCode: http.StatusNotFound,
			Message:      "room not found",
		},
	}
}

func ErrNotParticipant(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Error: &ErrorEvent{
			ResponseCode: http.StatusForbidden,
			Message:      "not a participant of this room",
		},
	}
}

func ErrInternalError(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Error: &ErrorEvent{
			ResponseCode: http.StatusInternalServerError,
			Message:      "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Error: &ErrorEvent{
			ResponseCode: http.StatusServiceUnavailable,
			Message:      "service unavailable",
		},
	}
}

func ErrInvalidEvent(id int) *ServerEvent {
	evt := &ServerEvent{
		BaseEvent: BaseEvent{
			Timestamp: Now(),
		},
		Error: &ErrorEvent{
			ResponseCode: http.StatusBadRequest,
			Message:      "invalid event format",
		},
	}

	if id > 0 {
		evt.Id = id
	}
	return evt
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
