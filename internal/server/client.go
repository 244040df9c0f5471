package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campusmeet/campuschat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameSize   = 4096
	sendBufferSize = 256
)

type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerEvent
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerEvent, sendBufferSize),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(evt)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var evt ClientEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(ErrInvalidEvent(-1))
			continue
		}

		evt.client = c
		evt.UserId = c.user.Id
		evt.Timestamp = Now()

		switch {
		case evt.Join != nil:
			c.joinRoom(&evt)
		case evt.Leave != nil:
			c.leaveRoom(&evt)
		case evt.Send != nil:
			r := c.getRoom(evt.Send.RoomId)
			if r == nil {
				c.queueEvent(ErrNotParticipant(evt.Id))
				continue
			}

			select {
			case r.eventChan <- &evt:
			default:
				c.queueEvent(ErrServiceUnavailable(evt.Id))
				c.log.Printf("eventChan full for room %q", r.externalId)
			}
		case evt.Typing != nil:
			// typing indicators are best effort, drop them when the
			// client is not in the room or the room is busy
			r := c.getRoom(evt.Typing.RoomId)
			if r == nil {
				continue
			}

			select {
			case r.eventChan <- &evt:
			default:
			}
		default:
			c.queueEvent(ErrInvalidEvent(evt.Id))
		}
	}
}

func (c *Client) queueEvent(evt *ServerEvent) bool {
	select {
	case c.send <- evt:
	default:
		c.log.Println("failed to queue event, client channel is full")
		return false
	}

	return true
}

func (c *Client) writeFrame(msgType int, payload []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, payload); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write frame: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	close(c.stop)
}

func (c *Client) cleanup() {
	c.chatServer.DeRegisterClient(c)
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		room.leaveChan <- &ClientEvent{
			Leave:  &LeaveRoom{RoomId: room.externalId},
			UserId: c.user.Id,
			client: c,
		}
	}
}

func (c *Client) joinRoom(evt *ClientEvent) {
	select {
	case c.chatServer.joinChan <- evt:
	default:
		c.log.Printf("joinChan full")
		c.queueEvent(ErrServiceUnavailable(evt.Id))
	}
}

// leaveRoom is a no-op when the client never joined the room. Leaving
// produces no acknowledgement either way.
func (c *Client) leaveRoom(evt *ClientEvent) {
	r := c.getRoom(evt.Leave.RoomId)
	if r == nil {
		return
	}

	select {
	case r.leaveChan <- evt:
	default:
		c.log.Printf("leaveChan full for room %q", r.externalId)
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.externalId] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}
