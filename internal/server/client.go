package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

const (
	writeWait     = 5 * time.Second
	pongWait      = 60 * time.Second
	sendQueueSize = 32
)

var ErrBackpressure = errors.New("backpressure")

// client is one signaling connection. Outbound frames go through a buffered
// send channel; a slow consumer drops frames instead of blocking the room.
type client struct {
	hub    *Hub
	id     domain.ConnectionID
	roomID domain.RoomID
	user   domain.User
	joined bool

	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool

	logger zerolog.Logger
}

func newClient(hub *Hub, id domain.ConnectionID, roomID domain.RoomID, user domain.User, conn *websocket.Conn, logger *zerolog.Logger) *client {
	return &client{
		hub:    hub,
		id:     id,
		roomID: roomID,
		user:   user,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		logger: logger.With().
			Str("module", "signal").
			Str("conn", string(id)).
			Str("room", string(roomID)).
			Logger(),
	}
}

func (c *client) trySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- frame:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *client) sendEvent(event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode outbound frame")
		return
	}
	if err := c.trySend(frame); err != nil {
		c.logger.Warn().Err(err).Str("event", event).Msg("dropped outbound frame")
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *client) writePump(ctx context.Context, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(ctx context.Context, readLimit int64) {
	defer func() {
		// disconnect is a hard room exit for this connection
		if c.joined {
			c.hub.Leave(c)
		}
		c.close()
		c.logger.Info().Msg("readPump closing")
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("readPump read error")
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

func (c *client) handleFrame(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.logger.Error().Err(err).Msg("bad frame")
		return
	}
	if e := c.logger.Trace(); e.Enabled() {
		e.Msg(spew.Sdump(env))
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		c.handleJoin(env)
	case protocol.EventLeaveRoom:
		c.handleLeave()
	case protocol.EventJoinVideoRoom:
		c.handleJoinVideo(env)
	case protocol.EventOffer:
		c.handleOffer(env)
	case protocol.EventAnswer:
		c.handleAnswer(env)
	case protocol.EventICECandidate:
		c.handleCandidate(env)
	case protocol.EventMediaStateChanged:
		c.handleMediaState(env)
	case protocol.EventLanguageChange:
		c.handleLanguage(env)
	case protocol.EventCodeChange:
		c.handleCode(env)
	case protocol.EventRunCode:
		c.handleRunCode(ctx, env)
	default:
		c.logger.Warn().Str("event", env.Event).Msg("unknown signal")
	}
}

func (c *client) handleJoin(env *protocol.Envelope) {
	var p protocol.JoinRoom
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad join payload")
		return
	}
	if p.RoomID != c.roomID {
		c.logger.Warn().Str("claimed", string(p.RoomID)).Msg("join for foreign room")
		return
	}
	c.user = p.User
	c.joined = true
	c.hub.Join(c, p.User)
}

func (c *client) handleLeave() {
	if !c.joined {
		return
	}
	c.joined = false
	c.hub.Leave(c)
}

func (c *client) handleJoinVideo(env *protocol.Envelope) {
	var p protocol.JoinVideoRoom
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad join-video payload")
		return
	}
	c.joined = true
	c.hub.JoinVideo(c, p.User)
}

func (c *client) handleOffer(env *protocol.Envelope) {
	var p protocol.Offer
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad offer payload")
		return
	}
	to := p.To
	p.To, p.From = "", c.id
	p.User = &c.user
	c.hub.SendTo(c.roomID, to, protocol.EventOffer, p)
}

func (c *client) handleAnswer(env *protocol.Envelope) {
	var p protocol.Answer
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad answer payload")
		return
	}
	to := p.To
	p.To, p.From = "", c.id
	c.hub.SendTo(c.roomID, to, protocol.EventAnswer, p)
}

func (c *client) handleCandidate(env *protocol.Envelope) {
	var p protocol.ICEMessage
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad candidate payload")
		return
	}
	to := p.To
	p.To, p.From = "", c.id
	c.hub.SendTo(c.roomID, to, protocol.EventICECandidate, p)
}

func (c *client) handleMediaState(env *protocol.Envelope) {
	var p protocol.MediaStateChanged
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad media-state payload")
		return
	}
	c.hub.SetMediaState(c, p)
}

func (c *client) handleLanguage(env *protocol.Envelope) {
	var p protocol.LanguageChange
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad language payload")
		return
	}
	c.hub.SetLanguage(c, p)
}

func (c *client) handleCode(env *protocol.Envelope) {
	var p protocol.CodeChange
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad code payload")
		return
	}
	c.hub.SetCode(c, p)
}

func (c *client) handleRunCode(ctx context.Context, env *protocol.Envelope) {
	var p protocol.RunCode
	if err := env.Payload(&p); err != nil {
		c.logger.Error().Err(err).Msg("bad run-code payload")
		return
	}
	c.hub.RunCode(ctx, c, p)
}
