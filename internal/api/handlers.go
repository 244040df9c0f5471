package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lib/pq"

	"github.com/campusmeet/campuschat/internal/database"
	"github.com/campusmeet/campuschat/internal/server"
	"github.com/campusmeet/campuschat/internal/types"
)

const uniqueViolation = "23505"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Password   string `json:"password"`
}

type UpdateAccountRequest struct {
	Name       string `json:"name"`
	Department string `json:"department"`
	AvatarUrl  string `json:"avatar_url"`
}

type CreateRoomRequest struct {
	Kind      string `json:"kind"`
	TargetId  int    `json:"target_id,omitempty"`
	ListingId string `json:"listing_id,omitempty"`
	Title     string `json:"title,omitempty"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func userResponse(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Name:         u.Name,
		EmailAddress: u.EmailAddress,
		Department:   u.Department,
		AvatarUrl:    u.AvatarUrl,
		Role:         u.Role,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func roomResponse(r database.Room) types.Room {
	room := types.Room{
		Id:        r.ExternalId,
		Kind:      r.Kind,
		Name:      r.Name,
		ListingId: r.ListingId.String,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.Participants != nil {
		room.Participants = make([]types.User, len(r.Participants))
		for i, p := range r.Participants {
			room.Participants[i] = types.User{
				Id:         p.Id,
				Name:       p.Name,
				Department: p.Department,
				AvatarUrl:  p.AvatarUrl,
			}
		}
	}

	if r.LastMessageAt.Valid {
		room.LastMessage = &types.LastMessage{
			Content:  r.LastMessageContent.String,
			SenderId: int(r.LastMessageSender.Int64),
			SentAt:   r.LastMessageAt.Time,
		}
	}

	return room
}

func messageResponse(m database.Message, externalRoomId string) types.Message {
	return types.Message{
		Id:           m.ExternalId,
		RoomId:       externalRoomId,
		SenderId:     m.SenderId,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
	}
}

func (s *ChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if s.emailDomain != "" && !strings.HasSuffix(lower(req.Email), "@"+s.emailDomain) {
		errResp := NewForbiddenError()
		errResp.Message = "registration requires a campus email address"
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		EmailAddress: req.Email,
		Name:         req.Name,
		Department:   req.Department,
		PasswordHash: pwdHash,
		Role:         "member",
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		var pqErr *pq.Error
		var errResp *ApiError
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			errResp = NewConflictError("email already registered")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, userResponse(newUser))
}

func (s *ChatApp) account(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, apiErr := s.accountFromContext(r)
		if apiErr != nil {
			s.writeJson(w, apiErr.StatusCode, apiErr)
			return
		}

		s.writeJson(w, http.StatusOK, userResponse(user))
	case http.MethodPut:
		curUser, apiErr := s.accountFromContext(r)
		if apiErr != nil {
			s.writeJson(w, apiErr.StatusCode, apiErr)
			return
		}

		var req UpdateAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if req.Name == "" {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		params := database.UpdateAccountParams{
			AccountId:  curUser.Id,
			Name:       req.Name,
			Department: req.Department,
			AvatarUrl:  req.AvatarUrl,
		}

		dbUser, err := s.db.UpdateAccount(params)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, userResponse(dbUser))
	default:
		errResp := NewMethodNotAllowedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
}

func (s *ChatApp) session(w http.ResponseWriter, r *http.Request) {
	user, apiErr := s.accountFromContext(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	s.writeJson(w, http.StatusOK, userResponse(user))
}

func (s *ChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if dbUser.Suspended {
		if dbUser.SuspendedUntil.Valid && time.Now().After(dbUser.SuspendedUntil.Time) {
			if err := s.db.SetAccountSuspended(dbUser.Id, false); err != nil {
				errResp := NewInternalServerError(err)
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		} else {
			errResp := NewForbiddenError()
			errResp.Message = "account suspended"
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	u := userResponse(dbUser)
	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *ChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

// createOrGetRoom resolves the conversation for a pair of users or a
// listing, creating it on first use. Repeated calls return the same room.
func (s *ChatApp) createOrGetRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var (
		room    database.Room
		created bool
	)

	switch req.Kind {
	case types.RoomKindDirect:
		if req.TargetId == 0 || req.TargetId == userId {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if _, err := s.db.GetAccountById(req.TargetId); err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewNotFoundError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		sid, err := s.generateShortId()
		if err != nil {
			s.log.Print("generateShortId:", err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		room, created, err = s.db.GetOrCreateDirectRoom(sid, userId, req.TargetId)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	case types.RoomKindGroup:
		if req.ListingId == "" || req.Title == "" {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		sid, err := s.generateShortId()
		if err != nil {
			s.log.Print("generateShortId:", err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		room, created, err = s.db.GetOrCreateGroupRoom(sid, req.ListingId, req.Title, userId)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	default:
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	fullRoom, err := s.db.GetRoomWithParticipants(room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	s.writeJson(w, status, roomResponse(*fullRoom))
}

func (s *ChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbRooms, err := s.db.ListRoomsForAccount(userId)
	if err != nil {
		s.log.Println("list rooms:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]types.Room, len(dbRooms))
	for i, dbRoom := range dbRooms {
		rooms[i] = roomResponse(dbRoom)
	}

	s.writeJson(w, http.StatusOK, rooms)
}

// getMessages returns a page of room history in chronological order.
// Non-participants get a not found response rather than a hint that the
// room exists.
func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	isMember, err := s.db.IsParticipant(room.Id, userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !isMember {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	page, limit := 1, 0
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		page, err = strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	dbMessages, err := s.db.GetMessages(room.Id, page, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the repository returns newest first, clients render oldest first
	messages := make([]types.Message, len(dbMessages))
	for i, msg := range dbMessages {
		messages[i] = messageResponse(msg, room.ExternalId)
	}
	slices.Reverse(messages)

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ChatApp) deactivateRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	isMember, err := s.db.IsParticipant(room.Id, userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !isMember {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeactivateRoom(room.Id); err != nil {
		s.log.Println("deactivate room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.UnloadRoom(r.Context(), room.ExternalId, true); err != nil {
		s.log.Println("unload room from chat server:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, apiErr := s.accountFromContext(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(userResponse(user), conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
