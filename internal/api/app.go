package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/campusmeet/campuschat/internal/config"
	"github.com/campusmeet/campuschat/internal/database"
	"github.com/campusmeet/campuschat/internal/server"
)

type ChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
	emailDomain    string
	environment    string
	// overridable for tests
	generateShortId func() (string, error)
}

func NewChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:             logger,
		db:              db,
		cs:              cs,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		emailDomain:     lower(cfg.AllowedEmailDomain),
		environment:     cfg.Environment,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))
	mux.Handle("POST /api/chat/room", s.authMiddleware(s.createOrGetRoom))
	mux.Handle("GET /api/chat/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("DELETE /api/chat/rooms", s.authMiddleware(s.deactivateRoom))
	mux.Handle("GET /api/chat/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthCheck)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
