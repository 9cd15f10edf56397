// Package storage holds room metadata records. Live membership never lives
// here; it belongs to the signaling hub.
package storage

import (
	"context"
	"errors"

	"github.com/lmikhailov/coderoom/internal/domain"
)

var (
	ErrRoomNotFound = errors.New("room is not found")
	ErrRoomExists   = errors.New("room already exists")
)

type RoomStore interface {
	Create(ctx context.Context, room domain.RoomMeta) error
	Get(ctx context.Context, id domain.RoomID) (*domain.RoomMeta, error)
	Delete(ctx context.Context, id domain.RoomID) error
}
