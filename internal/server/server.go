package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/campusmeet/campuschat/internal/database"
	"github.com/campusmeet/campuschat/internal/stats"
)

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

type stopRequest struct {
	done chan struct{}
}

type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	userMap        map[int]map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientEvent
	broadcastChan  chan *ServerEvent
	unloadRoomChan chan unloadRoomRequest
	roomsMap       sync.Map
	numRooms       int
	stop           chan stopRequest
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, sp stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		joinChan:       make(chan *ClientEvent, 256),
		broadcastChan:  make(chan *ServerEvent, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 16),
		stop:           make(chan stopRequest),
	}

	for _, metric := range []string{
		"NumActiveClients",
		"NumActiveRooms",
		"NumMessagesSent",
		"NumJoinRequests",
	} {
		cs.stats.RegisterMetric(metric)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinEvt := <-cs.joinChan:
			cs.handleJoinRoom(joinEvt)
		case evt := <-cs.broadcastChan:
			cs.handleBroadcast(evt)
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req.roomId, req.deleted)
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			cs.unloadAllRooms()
			cs.stopAllClients()
			close(req.done)
			return
		}
	}
}

// handleJoinRoom routes a join to the room's goroutine, loading the room
// from the database first if it is not resident.
func (cs *ChatServer) handleJoinRoom(joinEvt *ClientEvent) {
	cs.stats.Incr("NumJoinRequests")

	if room, ok := cs.getRoom(joinEvt.Join.RoomId); ok {
		select {
		case room.joinChan <- joinEvt:
		default:
			cs.log.Printf("join channel full on room %q", room.externalId)
			joinEvt.client.queueEvent(ErrServiceUnavailable(joinEvt.Id))
		}
		return
	}

	dbRoom, err := cs.db.GetRoomByExternalId(joinEvt.Join.RoomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			joinEvt.client.queueEvent(ErrRoomNotFound(joinEvt.Id))
		} else {
			cs.log.Println("GetRoomByExternalId:", err)
			joinEvt.client.queueEvent(ErrInternalError(joinEvt.Id))
		}
		return
	}

	// deactivated rooms are indistinguishable from missing ones
	if !dbRoom.Active {
		joinEvt.client.queueEvent(ErrRoomNotFound(joinEvt.Id))
		return
	}

	room := &Room{
		id:         dbRoom.Id,
		externalId: dbRoom.ExternalId,
		kind:       dbRoom.Kind,
		name:       dbRoom.Name,
		cs:         cs,
		joinChan:   make(chan *ClientEvent, 256),
		leaveChan:  make(chan *ClientEvent, 256),
		eventChan:  make(chan *ClientEvent, 256),
		clients:    make(map[*Client]struct{}),
		userMap:    make(map[int]map[*Client]struct{}),
		log:        cs.log,
		exit:       make(chan exitReq, 1),
	}

	cs.addRoom(room.externalId, room)
	room.joinChan <- joinEvt

	go room.start()
}

// handleBroadcast queues an event to every session of the addressed user.
func (cs *ChatServer) handleBroadcast(evt *ServerEvent) {
	for _, client := range cs.getClients(evt.UserId) {
		if client == evt.SkipClient {
			continue
		}

		client.queueEvent(evt)
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.log.Printf("adding connection from %q", c.user.Name)
	cs.addClient(c)
}

func (cs *ChatServer) DeRegisterClient(c *Client) {
	cs.log.Printf("removing connection from %q", c.user.Name)
	cs.removeClient(c)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userMap[c.user.Id] == nil {
		cs.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Id][c] = struct{}{}

	cs.stats.Incr("NumActiveClients")
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	if userClients, ok := cs.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, c.user.Id)
		}
	}

	cs.stats.Decr("NumActiveClients")
}

func (cs *ChatServer) getClients(userId int) []*Client {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	clients := make([]*Client, 0, len(cs.userMap[userId]))
	for c := range cs.userMap[userId] {
		clients = append(clients, c)
	}

	return clients
}

func (cs *ChatServer) stopAllClients() {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for c := range cs.clients {
		close(c.stop)
	}
}

func (cs *ChatServer) addRoom(roomId string, r *Room) {
	cs.roomsMap.Store(roomId, r)
	cs.numRooms++
	cs.stats.Incr("NumActiveRooms")
}

func (cs *ChatServer) getRoom(roomId string) (*Room, bool) {
	r, ok := cs.roomsMap.Load(roomId)
	if !ok {
		return nil, false
	}

	return r.(*Room), true
}

func (cs *ChatServer) removeRoom(roomId string) {
	if _, ok := cs.roomsMap.Load(roomId); !ok {
		return
	}

	cs.roomsMap.Delete(roomId)
	cs.numRooms--
	cs.stats.Decr("NumActiveRooms")
}

// unloadRoom stops a resident room's goroutine and waits for it to detach
// its clients before removing it from the room table.
func (cs *ChatServer) unloadRoom(roomId string, deleted bool) {
	r, ok := cs.getRoom(roomId)
	if !ok {
		return
	}

	done := make(chan string, 1)
	r.exit <- exitReq{deleted: deleted, done: done}
	<-done

	cs.removeRoom(roomId)
}

func (cs *ChatServer) unloadAllRooms() {
	cs.roomsMap.Range(func(key, _ any) bool {
		cs.unloadRoom(key.(string), false)
		return true
	})
}

// UnloadRoom asks the server loop to evict a room. Callers pass deleted
// when the room was removed from the database and should not be rejoined.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string, deleted bool) error {
	if roomId == "" {
		return fmt.Errorf("roomId cannot be empty")
	}

	select {
	case cs.unloadRoomChan <- unloadRoomRequest{roomId: roomId, deleted: deleted}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopRequest{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
