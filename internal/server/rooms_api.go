package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/storage"
)

type CreateRoomRequest struct {
	RoomID string `json:"roomId"`
}

type roomResponse struct {
	Room domain.RoomMeta `json:"room"`
}

// CreateRoom registers a room record. The caller may bring their own id
// (shareable human-chosen names) or get a generated one.
func (s *Server) CreateRoom(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RoomID == "" {
		req.RoomID = uuid.NewString()
	}

	room := domain.RoomMeta{
		ID:        domain.RoomID(req.RoomID),
		CreatedBy: user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(c.Request.Context(), room); err != nil {
		if errors.Is(err, storage.ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
			return
		}
		s.logger.Error().Err(err).Msg("failed to store room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	s.logger.Info().
		Str("room", req.RoomID).
		Str("user", string(user.ID)).
		Msg("room created")
	c.JSON(http.StatusCreated, roomResponse{Room: room})
}

func (s *Server) GetRoom(c *gin.Context) {
	id := domain.RoomID(c.Param("roomId"))

	room, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		s.logger.Error().Err(err).Msg("failed to fetch room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch room"})
		return
	}

	c.JSON(http.StatusOK, roomResponse{Room: *room})
}

// DeleteRoom removes the record and fans out room-deleted to every live
// member. Creator-only.
func (s *Server) DeleteRoom(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	id := domain.RoomID(c.Param("roomId"))
	room, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		s.logger.Error().Err(err).Msg("failed to fetch room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch room"})
		return
	}

	if room.CreatedBy != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the room creator can delete the room"})
		return
	}

	if err := s.store.Delete(c.Request.Context(), id); err != nil {
		s.logger.Error().Err(err).Msg("failed to delete room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete room"})
		return
	}

	s.hub.CloseRoom(id)
	c.JSON(http.StatusOK, gin.H{"message": "room deleted"})
}
