package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/executor"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

// Hub owns the live state of every room: who is connected, their media
// flags, and the shared buffer. Room metadata (creator, TTL) lives in the
// store, not here.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*room
	runner executor.Runner
	logger zerolog.Logger
}

type room struct {
	id           domain.RoomID
	participants map[domain.ConnectionID]*member
	order        []domain.ConnectionID // join order, for stable snapshots
	buffer       domain.BufferState
}

type member struct {
	part domain.Participant
	c    *client
	mesh bool // announced via join-video-room
}

func NewHub(runner executor.Runner, logger *zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[domain.RoomID]*room),
		runner: runner,
		logger: logger.With().Str("module", "hub").Logger(),
	}
}

func (h *Hub) getOrCreateRoom(id domain.RoomID) *room {
	r, ok := h.rooms[id]
	if !ok {
		r = &room{
			id:           id,
			participants: make(map[domain.ConnectionID]*member),
			buffer:       domain.DefaultBuffer(),
		}
		h.rooms[id] = r
		h.logger.Info().Str("room", string(id)).Msg("room opened")
	}
	return r
}

// Join adds the connection to the room and fans out a fresh membership
// snapshot to everyone, sender included.
func (h *Hub) Join(c *client, user domain.User) {
	h.mu.Lock()
	r := h.getOrCreateRoom(c.roomID)
	if _, ok := r.participants[c.id]; !ok {
		r.order = append(r.order, c.id)
	}
	r.participants[c.id] = &member{part: domain.NewParticipant(c.id, user), c: c}
	snapshot := r.membersSnapshot()
	targets := r.clients()
	h.mu.Unlock()

	h.logger.Info().
		Str("room", string(c.roomID)).
		Str("conn", string(c.id)).
		Str("user", string(user.ID)).
		Msg("participant joined")

	for _, target := range targets {
		target.sendEvent(protocol.EventRoomMembers, snapshot)
	}
}

// Leave removes the connection. The rest of the room gets both a refreshed
// snapshot and a user-left addressed notification so peer links can be torn
// down by connection id.
func (h *Hub) Leave(c *client) {
	h.mu.Lock()
	r, ok := h.rooms[c.roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := r.participants[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(r.participants, c.id)
	r.dropFromOrder(c.id)
	empty := len(r.participants) == 0
	if empty {
		delete(h.rooms, c.roomID)
	}
	snapshot := r.membersSnapshot()
	targets := r.clients()
	h.mu.Unlock()

	h.logger.Info().
		Str("room", string(c.roomID)).
		Str("conn", string(c.id)).
		Msg("participant left")
	if empty {
		h.logger.Info().Str("room", string(c.roomID)).Msg("room emptied")
		return
	}

	for _, target := range targets {
		target.sendEvent(protocol.EventUserLeft, c.id)
		target.sendEvent(protocol.EventRoomMembers, snapshot)
	}
}

// JoinVideo marks the connection as mesh-ready, tells every other mesh
// participant about the newcomer, and pushes the full media snapshot to the
// newcomer. The snapshot is a full push, not a replay: toggles that happened
// before the join are otherwise unrecoverable.
func (h *Hub) JoinVideo(c *client, user domain.User) {
	h.mu.Lock()
	r := h.getOrCreateRoom(c.roomID)
	m, ok := r.participants[c.id]
	if !ok {
		m = &member{part: domain.NewParticipant(c.id, user), c: c}
		r.participants[c.id] = m
		r.order = append(r.order, c.id)
	}
	m.mesh = true

	var others []*client
	sync := make([]protocol.MediaSyncEntry, 0, len(r.participants))
	for _, id := range r.order {
		p := r.participants[id]
		if p.mesh && id != c.id {
			others = append(others, p.c)
		}
		sync = append(sync, protocol.MediaSyncEntry{
			SocketID: p.part.ConnectionID,
			VideoOn:  p.part.VideoOn,
			AudioOn:  p.part.AudioOn,
		})
	}
	h.mu.Unlock()

	for _, target := range others {
		target.sendEvent(protocol.EventNewParticipant, protocol.NewParticipant{From: c.id, User: user})
	}
	c.sendEvent(protocol.EventMediaSync, sync)
}

// SetMediaState records the flags and rebroadcasts them to the rest of the
// room. Unknown senders are ignored.
func (h *Hub) SetMediaState(c *client, msg protocol.MediaStateChanged) {
	h.mu.Lock()
	r, ok := h.rooms[c.roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	m, ok := r.participants[c.id]
	if !ok {
		h.mu.Unlock()
		return
	}
	m.part.VideoOn = msg.VideoOn
	m.part.AudioOn = msg.AudioOn
	targets := r.clientsExcept(c.id)
	h.mu.Unlock()

	out := protocol.MediaStateChanged{
		RoomID:   c.roomID,
		SocketID: c.id,
		VideoOn:  msg.VideoOn,
		AudioOn:  msg.AudioOn,
	}
	for _, target := range targets {
		target.sendEvent(protocol.EventMediaStateChanged, out)
	}
}

// SendTo forwards a pre-encoded frame to one connection in the same room.
// A missing target is dropped: the link may already be gone, and late
// negotiation traffic is never fatal.
func (h *Hub) SendTo(roomID domain.RoomID, to domain.ConnectionID, event string, payload any) {
	h.mu.RLock()
	var target *client
	if r, ok := h.rooms[roomID]; ok {
		if m, ok := r.participants[to]; ok {
			target = m.c
		}
	}
	h.mu.RUnlock()

	if target == nil {
		h.logger.Debug().
			Str("room", string(roomID)).
			Str("to", string(to)).
			Str("event", event).
			Msg("cannot forward, dst not found")
		return
	}
	target.sendEvent(event, payload)
}

// SetLanguage applies a last-writer-wins language change and rebroadcasts
// the bare value to everyone else.
func (h *Hub) SetLanguage(c *client, msg protocol.LanguageChange) {
	lang, err := domain.ParseLanguage(msg.Language)
	if err != nil {
		h.logger.Warn().
			Str("conn", string(c.id)).
			Str("language", msg.Language).
			Msg("rejected language change")
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[c.roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	r.buffer.Language = lang
	targets := r.clientsExcept(c.id)
	h.mu.Unlock()

	for _, target := range targets {
		target.sendEvent(protocol.EventLanguageChange, string(lang))
	}
}

// SetCode applies a last-writer-wins content overwrite and rebroadcasts the
// bare value to everyone else.
func (h *Hub) SetCode(c *client, msg protocol.CodeChange) {
	h.mu.Lock()
	r, ok := h.rooms[c.roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	r.buffer.Content = msg.Code
	targets := r.clientsExcept(c.id)
	h.mu.Unlock()

	for _, target := range targets {
		target.sendEvent(protocol.EventCodeChange, msg.Code)
	}
}

// RunCode forwards the request to the execution collaborator and broadcasts
// the result to the whole room, requester included: a run triggered by any
// participant updates everyone's view.
func (h *Hub) RunCode(ctx context.Context, c *client, msg protocol.RunCode) {
	lang, err := domain.ParseLanguage(msg.Language)
	if err != nil {
		c.sendEvent(protocol.EventCodeOutput, protocol.CodeOutput{Output: "unsupported language: " + msg.Language})
		return
	}

	go func() {
		output, err := h.runner.Run(ctx, lang, msg.Code)
		if err != nil {
			h.logger.Error().Err(err).Str("room", string(c.roomID)).Msg("executor call failed")
			output = "execution failed: " + err.Error()
		}

		h.mu.RLock()
		var targets []*client
		if r, ok := h.rooms[c.roomID]; ok {
			targets = r.clients()
		}
		h.mu.RUnlock()

		for _, target := range targets {
			target.sendEvent(protocol.EventCodeOutput, protocol.CodeOutput{Output: output})
		}
	}()
}

// CloseRoom notifies every member that the room is gone and evicts them.
// Used by the REST delete handler.
func (h *Hub) CloseRoom(id domain.RoomID) {
	h.mu.Lock()
	r, ok := h.rooms[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := r.clients()
	delete(h.rooms, id)
	h.mu.Unlock()

	h.logger.Info().Str("room", string(id)).Int("members", len(targets)).Msg("room deleted")
	for _, target := range targets {
		target.sendEvent(protocol.EventRoomDeleted, nil)
	}
}

// membersSnapshot builds the ordered membership list, deduplicated by user
// id: when the transport briefly reports two connections for one user, the
// most recent one wins.
func (r *room) membersSnapshot() []domain.Participant {
	latest := make(map[domain.UserID]domain.ConnectionID, len(r.participants))
	for _, id := range r.order {
		latest[r.participants[id].part.UserID] = id
	}
	out := make([]domain.Participant, 0, len(latest))
	for _, id := range r.order {
		p := r.participants[id]
		if latest[p.part.UserID] == id {
			out = append(out, p.part)
		}
	}
	return out
}

func (r *room) clients() []*client {
	out := make([]*client, 0, len(r.participants))
	for _, id := range r.order {
		out = append(out, r.participants[id].c)
	}
	return out
}

func (r *room) clientsExcept(except domain.ConnectionID) []*client {
	out := make([]*client, 0, len(r.participants))
	for _, id := range r.order {
		if id != except {
			out = append(out, r.participants[id].c)
		}
	}
	return out
}

func (r *room) dropFromOrder(id domain.ConnectionID) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
