package domain

import "time"

type RoomID string

// RoomMeta is the externally stored room record. Membership is not part of
// it; the live participant set belongs to the signaling layer.
type RoomMeta struct {
	ID        RoomID    `json:"id"`
	CreatedBy UserID    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}
