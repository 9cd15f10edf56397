// Package session implements the client-side room coordination layer: the
// membership set, the peer mesh state machines, media flag synchronization
// and the shared buffer. All state lives on a single event loop; transitions
// run to completion without preemption, so none of it is locked.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

const defaultMaxAttachAttempts = 25

// Events are optional notification hooks, invoked from the session loop.
// Handlers must not call back into the Session synchronously.
type Events struct {
	OnMembers       func([]domain.Participant)
	OnMediaState    func(domain.ConnectionID, domain.MediaState)
	OnCode          func(string)
	OnLanguage      func(domain.Language)
	OnOutput        func(string)
	OnPeerConnected func(domain.ConnectionID)
	OnRoomDeleted   func()
	OnDone          func(error)
}

type Config struct {
	RoomID    domain.RoomID
	User      domain.User
	Transport Transport
	Engine    MediaEngine
	Events    Events
	Logger    *zerolog.Logger

	// MaxAttachAttempts bounds how often a queued remote stream is retried
	// against a failing sink before it is dropped.
	MaxAttachAttempts int
}

type Session struct {
	roomID domain.RoomID
	user   domain.User
	connID domain.ConnectionID

	transport Transport
	engine    MediaEngine
	events    Events
	logger    zerolog.Logger

	// coordination state, loop-owned
	participants map[domain.ConnectionID]domain.Participant
	order        []domain.ConnectionID
	links        map[domain.ConnectionID]*peerLink
	sinks        map[domain.ConnectionID]StreamSink
	pending      map[domain.ConnectionID]*pendingStream
	local        LocalMedia
	videoOn      bool
	audioOn      bool
	buffer       domain.BufferState
	output       string
	closed       bool

	maxAttach int
	handlers  map[string]func(*protocol.Envelope)
	commands  chan func()
	finished  chan struct{}
}

func New(cfg Config) *Session {
	maxAttach := cfg.MaxAttachAttempts
	if maxAttach <= 0 {
		maxAttach = defaultMaxAttachAttempts
	}
	s := &Session{
		roomID:       cfg.RoomID,
		user:         cfg.User,
		transport:    cfg.Transport,
		engine:       cfg.Engine,
		events:       cfg.Events,
		logger:       cfg.Logger.With().Str("module", "session").Str("room", string(cfg.RoomID)).Logger(),
		participants: make(map[domain.ConnectionID]domain.Participant),
		links:        make(map[domain.ConnectionID]*peerLink),
		sinks:        make(map[domain.ConnectionID]StreamSink),
		pending:      make(map[domain.ConnectionID]*pendingStream),
		videoOn:      true,
		audioOn:      true,
		buffer:       domain.DefaultBuffer(),
		maxAttach:    maxAttach,
		commands:     make(chan func(), 64),
		finished:     make(chan struct{}),
	}
	s.handlers = map[string]func(*protocol.Envelope){
		protocol.EventRoomMembers:       s.onRoomMembers,
		protocol.EventRoomDeleted:       s.onRoomDeleted,
		protocol.EventNewParticipant:    s.onNewParticipant,
		protocol.EventOffer:             s.onOffer,
		protocol.EventAnswer:            s.onAnswer,
		protocol.EventICECandidate:      s.onICECandidate,
		protocol.EventUserLeft:          s.onUserLeft,
		protocol.EventMediaStateChanged: s.onMediaStateChanged,
		protocol.EventMediaSync:         s.onMediaSync,
		protocol.EventLanguageChange:    s.onLanguageChange,
		protocol.EventCodeChange:        s.onCodeChange,
		protocol.EventCodeOutput:        s.onCodeOutput,
	}
	return s
}

// Start connects, announces the join, acquires local capture and enters the
// mesh. Any failure here aborts room entry entirely: no partial join state
// survives.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("room entry: %w", err)
	}
	s.connID = s.transport.ConnectionID()
	s.logger = s.logger.With().Str("conn", string(s.connID)).Logger()

	if err := s.transport.Send(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: s.roomID, User: s.user}); err != nil {
		_ = s.transport.Close()
		return fmt.Errorf("announce join: %w", err)
	}

	local, err := s.engine.Capture(ctx)
	if err != nil {
		_ = s.transport.Close()
		return fmt.Errorf("acquire local media: %w", err)
	}
	s.local = local

	if err := s.transport.Send(protocol.EventJoinVideoRoom, protocol.JoinVideoRoom{RoomID: s.roomID, User: s.user}); err != nil {
		local.Close()
		_ = s.transport.Close()
		return fmt.Errorf("announce mesh join: %w", err)
	}

	go s.run(ctx)
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.finished)
	for {
		select {
		case <-ctx.Done():
			s.teardown(true)
			s.notifyDone(ctx.Err())
			return
		case cmd := <-s.commands:
			cmd()
			if s.closed {
				s.notifyDone(nil)
				return
			}
		case env, ok := <-s.transport.Incoming():
			if !ok {
				// transport loss is a hard room exit; no transparent resume
				s.teardown(false)
				s.notifyDone(ErrTransportClosed)
				return
			}
			if h, ok := s.handlers[env.Event]; ok {
				h(env)
			} else {
				s.logger.Warn().Str("event", env.Event).Msg("unknown signal")
			}
			if s.closed {
				s.notifyDone(nil)
				return
			}
		}
	}
}

// teardown runs synchronously inside the loop: announce (unless the server
// already evicted us or the transport is gone), close every peer link, then
// the capture, then the transport — strictly in that order.
func (s *Session) teardown(announce bool) {
	if s.closed {
		return
	}
	s.closed = true

	if announce {
		if err := s.transport.Send(protocol.EventLeaveRoom, s.roomID); err != nil {
			s.logger.Warn().Err(err).Msg("leave announcement not sent")
		}
	}
	for id := range s.links {
		s.closeLink(id)
	}
	s.pending = map[domain.ConnectionID]*pendingStream{}
	if s.local != nil {
		s.local.Close()
	}
	_ = s.transport.Close()
	s.logger.Info().Msg("session torn down")
}

func (s *Session) notifyDone(err error) {
	if s.events.OnDone != nil {
		s.events.OnDone(err)
	}
}

// Leave announces departure and tears the session down. Safe to call from
// any goroutine; a no-op once the session has finished.
func (s *Session) Leave() {
	s.do(func() { s.teardown(true) })
}

// Done is closed when the event loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

func (s *Session) ConnectionID() domain.ConnectionID {
	return s.connID
}

// do marshals f into the loop and waits for it. Returns false when the
// session already finished.
func (s *Session) do(f func()) bool {
	ran := make(chan struct{})
	wrapped := func() {
		f()
		close(ran)
	}
	select {
	case s.commands <- wrapped:
	case <-s.finished:
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.finished:
		return false
	}
}

// post marshals f into the loop without waiting; used by media callbacks
// that fire on foreign goroutines.
func (s *Session) post(f func()) {
	select {
	case s.commands <- f:
	case <-s.finished:
	}
}

// Members returns the current membership snapshot in join order.
func (s *Session) Members() []domain.Participant {
	var out []domain.Participant
	s.do(func() {
		for _, id := range s.order {
			out = append(out, s.participants[id])
		}
	})
	return out
}

func (s *Session) Buffer() domain.BufferState {
	var out domain.BufferState
	s.do(func() { out = s.buffer })
	return out
}

func (s *Session) Output() string {
	var out string
	s.do(func() { out = s.output })
	return out
}

// PeerState reports the negotiation state of the link to one remote
// connection, or LinkAbsent.
func (s *Session) PeerState(id domain.ConnectionID) LinkState {
	state := LinkAbsent
	s.do(func() {
		if pl, ok := s.links[id]; ok {
			state = pl.state
		}
	})
	return state
}

// RegisterSink attaches a destination for a peer's remote stream. Streams
// that arrived before the sink are drained from the pending queue.
func (s *Session) RegisterSink(id domain.ConnectionID, sink StreamSink) {
	s.do(func() {
		s.sinks[id] = sink
		s.drainPending(id)
	})
}

// EditBuffer overwrites the local buffer and broadcasts the edit.
func (s *Session) EditBuffer(code string) {
	s.do(func() {
		s.buffer.Content = code
		s.send(protocol.EventCodeChange, protocol.CodeChange{RoomID: s.roomID, Code: code})
	})
}

// SetLanguage changes the run-target language room-wide.
func (s *Session) SetLanguage(lang domain.Language) {
	s.do(func() {
		s.buffer.Language = lang
		s.send(protocol.EventLanguageChange, protocol.LanguageChange{RoomID: s.roomID, Language: string(lang)})
	})
}

// RunCode submits the current buffer for remote execution. The result comes
// back to everyone as a code-output event.
func (s *Session) RunCode() {
	s.do(func() {
		s.send(protocol.EventRunCode, protocol.RunCode{
			RoomID:   s.roomID,
			Code:     s.buffer.Content,
			Language: string(s.buffer.Language),
		})
	})
}

func (s *Session) ToggleVideo() {
	s.do(func() {
		s.setMediaState(!s.videoOn, s.audioOn)
	})
}

func (s *Session) ToggleAudio() {
	s.do(func() {
		s.setMediaState(s.videoOn, !s.audioOn)
	})
}

func (s *Session) send(event string, payload any) {
	if s.closed {
		return
	}
	if err := s.transport.Send(event, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("send failed")
	}
}
