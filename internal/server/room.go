package server

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campusmeet/campuschat/internal/database"
	"github.com/campusmeet/campuschat/internal/types"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	deleted bool
	done    chan string
}

type Room struct {
	id           int
	externalId   string
	kind         string
	name         string
	participants []types.User
	cs           *ChatServer
	joinChan     chan *ClientEvent
	leaveChan    chan *ClientEvent
	eventChan    chan *ClientEvent
	clients      map[*Client]struct{}
	userMap      map[int]map[*Client]struct{}
	clientLock   sync.RWMutex
	log          *log.Logger
	// killTimer unloads the room once it has been empty for idleRoomTimeout
	killTimer *time.Timer
	// exit signals the room goroutine to clean up and return
	exit chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveEvt := <-r.leaveChan:
			r.handleLeave(leaveEvt)
		case evt := <-r.eventChan:
			if evt.Send != nil {
				r.saveAndBroadcast(evt)
			} else if evt.Typing != nil {
				r.relayTyping(evt)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)

	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		// retry later rather than block the room loop
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)

	r.clientLock.Lock()
	for c := range r.clients {
		delete(r.clients, c)
		c.delRoom(r.externalId)
	}
	clear(r.userMap)
	r.clientLock.Unlock()

	// notify the chat server the room is done cleaning up
	if e.done != nil {
		e.done <- r.externalId
	}
}

// handleJoin admits a client after verifying room membership. Joins by
// non-participants are rejected with an error sent only to the requester.
func (r *Room) handleJoin(join *ClientEvent) {
	// stop the kill timer since we have a join in flight
	r.killTimer.Stop()

	c := join.client
	isMember, err := r.cs.db.IsParticipant(r.id, c.user.Id)
	if err != nil {
		r.log.Println("IsParticipant:", err)
		c.queueEvent(ErrInternalError(join.Id))
		r.resetTimerIfEmpty()
		return
	}
	if !isMember {
		r.log.Printf("user %d is not a participant of room %q", c.user.Id, r.externalId)
		c.queueEvent(ErrNotParticipant(join.Id))
		r.resetTimerIfEmpty()
		return
	}

	dbRoom, err := r.cs.db.GetRoomWithParticipants(r.id)
	if err != nil {
		r.log.Println("GetRoomWithParticipants:", err)
		c.queueEvent(ErrInternalError(join.Id))
		r.resetTimerIfEmpty()
		return
	}

	r.participants = make([]types.User, len(dbRoom.Participants))
	for i, p := range dbRoom.Participants {
		r.participants[i] = types.User{
			Id:         p.Id,
			Name:       p.Name,
			Department: p.Department,
			AvatarUrl:  p.AvatarUrl,
		}
	}

	r.addClient(c)

	roomInfo := types.Room{
		Id:           dbRoom.ExternalId,
		Kind:         dbRoom.Kind,
		Name:         dbRoom.Name,
		ListingId:    dbRoom.ListingId.String,
		Participants: r.participants,
		Active:       dbRoom.Active,
		CreatedAt:    dbRoom.CreatedAt,
		UpdatedAt:    dbRoom.UpdatedAt,
	}
	if dbRoom.LastMessageAt.Valid {
		roomInfo.LastMessage = &types.LastMessage{
			Content:  dbRoom.LastMessageContent.String,
			SenderId: int(dbRoom.LastMessageSender.Int64),
			SentAt:   dbRoom.LastMessageAt.Time,
		}
	}

	c.queueEvent(JoinedOK(join.Id, roomInfo))
}

func (r *Room) handleLeave(leaveEvt *ClientEvent) {
	r.removeClient(leaveEvt.client)
}

// saveAndBroadcast persists a chat message and fans it out to every
// connected client in the room, the sender included. Messages that are
// empty after trimming are dropped without a reply.
func (r *Room) saveAndBroadcast(evt *ClientEvent) {
	content := strings.TrimSpace(evt.Send.Content)
	if content == "" {
		return
	}

	// membership may have been revoked since the client joined
	isMember, err := r.cs.db.IsParticipant(r.id, evt.UserId)
	if err != nil {
		r.log.Println("IsParticipant:", err)
		evt.client.queueEvent(ErrInternalError(evt.Id))
		return
	}
	if !isMember {
		evt.client.queueEvent(ErrNotParticipant(evt.Id))
		return
	}

	if runes := []rune(content); len(runes) > maxContentLength {
		content = string(runes[:maxContentLength])
	}

	msg, err := r.cs.db.CreateMessage(database.CreateMessageParams{
		ExternalId: uuid.NewString(),
		RoomId:     r.id,
		SenderId:   evt.UserId,
		Content:    content,
	})
	if err != nil {
		r.log.Println("CreateMessage:", err)
		evt.client.queueEvent(ErrInternalError(evt.Id))
		return
	}

	r.cs.stats.Incr("NumMessagesSent")

	broadcastMsg := &types.Message{
		Id:           msg.ExternalId,
		RoomId:       r.externalId,
		SenderId:     msg.SenderId,
		SenderName:   msg.SenderName,
		SenderAvatar: msg.SenderAvatar,
		Content:      msg.Content,
		CreatedAt:    msg.CreatedAt,
	}

	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{
			Id:        evt.Id,
			Timestamp: msg.CreatedAt,
		},
		Message: broadcastMsg,
	})

	// let participants without a session in the room refresh their
	// conversation list
	for _, p := range r.participants {
		if r.userMap[p.Id] != nil {
			continue
		}

		r.cs.broadcastChan <- &ServerEvent{
			BaseEvent: BaseEvent{Timestamp: msg.CreatedAt},
			Activity: &RoomActivity{
				RoomId: r.externalId,
				LastMessage: types.LastMessage{
					Content:  msg.Content,
					SenderId: msg.SenderId,
					SentAt:   msg.CreatedAt,
				},
			},
			UserId: p.Id,
		}
	}
}

// relayTyping fans a typing indicator out to everyone but its author.
// Indicators are transient and never persisted.
func (r *Room) relayTyping(evt *ClientEvent) {
	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		Typing: &UserTyping{
			RoomId:   r.externalId,
			UserId:   evt.UserId,
			Name:     evt.client.user.Name,
			IsTyping: evt.Typing.IsTyping,
		},
		SkipClient: evt.client,
	})
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		r.log.Printf("client %q not found in room %q", c.user.Name, r.externalId)
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	r.log.Printf("removed client %q from room %q", c.user.Name, r.externalId)

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) resetTimerIfEmpty() {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(evt *ServerEvent) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == evt.SkipClient {
			continue
		}

		client.queueEvent(evt)
	}
}
