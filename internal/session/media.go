package session

import (
	"context"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

// MediaEngine abstracts the WebRTC stack so the coordination state machines
// can be replayed deterministically in tests without touching the network.
type MediaEngine interface {
	// Capture acquires the shared local capture handle. It is acquired once
	// per session and shared read-only across every link.
	Capture(ctx context.Context) (LocalMedia, error)
	NewLink(remote domain.ConnectionID) (Link, error)
}

// LocalMedia is the local capture stream. Links never mutate track
// enablement directly; toggling goes through the session so every link
// observes the same state.
type LocalMedia interface {
	SetVideoEnabled(bool)
	SetAudioEnabled(bool)
	Close()
}

// Link is one direct media connection to a remote participant.
//
// Offerer order: AttachLocal, CreateOffer.
// Answerer order: SetRemoteOffer, AttachLocal, CreateAnswer.
type Link interface {
	AttachLocal(LocalMedia) error
	CreateOffer() (protocol.SessionDescription, error)
	SetRemoteOffer(protocol.SessionDescription) error
	CreateAnswer() (protocol.SessionDescription, error)
	ApplyAnswer(protocol.SessionDescription) error
	AddICECandidate(protocol.ICECandidate) error

	// OnICECandidate fires for each locally gathered candidate (trickle).
	OnICECandidate(func(protocol.ICECandidate))
	// OnRemoteStream fires when remote media becomes available, which
	// happens asynchronously after negotiation completes.
	OnRemoteStream(func(RemoteStream))

	Close()
}

// RemoteStream is an opaque handle to a peer's incoming media.
type RemoteStream interface {
	ID() string
}

// StreamSink is the destination a remote stream attaches to (a video
// element, a file, a null sink in tests). Sinks may be registered after the
// stream arrives; the session queues the stream until then.
type StreamSink interface {
	Attach(RemoteStream) error
}
