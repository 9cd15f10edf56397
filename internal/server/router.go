package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lmikhailov/coderoom/internal/config"
	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/executor"
	"github.com/lmikhailov/coderoom/internal/storage"
)

// ConnectionIDHeader carries the transport-assigned connection id back to
// the client in the websocket handshake response.
const ConnectionIDHeader = "X-Connection-Id"

type Server struct {
	cfg    *config.Config
	hub    *Hub
	store  storage.RoomStore
	logger zerolog.Logger
}

func New(cfg *config.Config, store storage.RoomStore, runner executor.Runner, logger *zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    NewHub(runner, logger),
		store:  store,
		logger: logger.With().Str("module", "server").Logger(),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) SetupRouter(ctx context.Context) *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/auth/login", Login(s.cfg.Secret))
	api.POST("/rooms/create", JWTAuth(s.cfg.Secret), s.CreateRoom)
	api.GET("/rooms/:roomId", JWTAuth(s.cfg.Secret), s.GetRoom)
	api.DELETE("/rooms/:roomId", JWTAuth(s.cfg.Secret), s.DeleteRoom)

	r.GET("/ws/:roomId", func(c *gin.Context) {
		s.HandleSignal(ctx, c)
	})

	return r
}

// HandleSignal upgrades the connection and starts the signaling pumps.
// A valid identity token is a hard precondition; the room must exist.
func (s *Server) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))

	user, err := ParseToken(s.cfg.Secret, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if _, err := s.store.Get(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		s.logger.Error().Err(err).Msg("failed to fetch room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch room"})
		return
	}

	connID := domain.ConnectionID(uuid.NewString())
	header := http.Header{}
	header.Set(ConnectionIDHeader, string(connID))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		s.logger.Error().Err(err).Msg("ws upgrade")
		return
	}

	s.logger.Info().
		Str("conn", string(connID)).
		Str("room", string(roomID)).
		Str("user", string(user.ID)).
		Msg("new signaling connection")

	cl := newClient(s.hub, connID, roomID, *user, ws, &s.logger)
	go cl.writePump(ctx, s.cfg.PingPeriod)
	go cl.readPump(ctx, s.cfg.ReadLimit)
}
