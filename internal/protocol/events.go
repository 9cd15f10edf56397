// Package protocol defines the signaling wire contract: event names and
// payload shapes. These are compatibility-critical; renaming an event or a
// JSON key breaks every deployed client.
package protocol

import "github.com/lmikhailov/coderoom/internal/domain"

const (
	// client -> server
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventJoinVideoRoom = "join-video-room"
	EventRunCode       = "run-code"

	// server -> client
	EventRoomMembers    = "room-members"
	EventRoomDeleted    = "room-deleted"
	EventNewParticipant = "new-participant"
	EventUserLeft       = "user-left"
	EventMediaSync      = "media-sync"
	EventCodeOutput     = "code-output"

	// both directions
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice-candidate"
	EventMediaStateChanged = "media-state-changed"
	EventLanguageChange    = "language-change"
	EventCodeChange        = "code-change"
)

type JoinRoom struct {
	RoomID domain.RoomID `json:"roomId"`
	User   domain.User   `json:"user"`
}

// JoinVideoRoom announces readiness for the peer mesh; it is sent only
// after local media capture has been acquired.
type JoinVideoRoom struct {
	RoomID domain.RoomID `json:"roomId"`
	User   domain.User   `json:"user"`
}

type NewParticipant struct {
	From domain.ConnectionID `json:"from"`
	User domain.User         `json:"user"`
}

// SessionDescription mirrors the browser RTCSessionDescription JSON shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Offer and Answer carry `to` on the way in and `from` after the server
// rewrites the address during forwarding.
type Offer struct {
	To   domain.ConnectionID `json:"to,omitempty"`
	From domain.ConnectionID `json:"from,omitempty"`
	SDP  SessionDescription  `json:"sdp"`
	User *domain.User        `json:"user,omitempty"`
}

type Answer struct {
	To   domain.ConnectionID `json:"to,omitempty"`
	From domain.ConnectionID `json:"from,omitempty"`
	SDP  SessionDescription  `json:"sdp"`
}

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type ICEMessage struct {
	To        domain.ConnectionID `json:"to,omitempty"`
	From      domain.ConnectionID `json:"from,omitempty"`
	Candidate ICECandidate        `json:"candidate"`
}

type MediaStateChanged struct {
	RoomID   domain.RoomID       `json:"roomId"`
	SocketID domain.ConnectionID `json:"socketId"`
	VideoOn  bool                `json:"isVideoOn"`
	AudioOn  bool                `json:"isAudioOn"`
}

// MediaSyncEntry is one participant's current flags inside the full
// snapshot pushed to late joiners.
type MediaSyncEntry struct {
	SocketID domain.ConnectionID `json:"socketId"`
	VideoOn  bool                `json:"isVideoOn"`
	AudioOn  bool                `json:"isAudioOn"`
}

type LanguageChange struct {
	RoomID   domain.RoomID `json:"roomId"`
	Language string        `json:"language"`
}

type CodeChange struct {
	RoomID domain.RoomID `json:"roomId"`
	Code   string        `json:"code"`
}

type RunCode struct {
	RoomID   domain.RoomID `json:"roomId"`
	Code     string        `json:"code"`
	Language string        `json:"language"`
}

type CodeOutput struct {
	Output string `json:"output"`
}
