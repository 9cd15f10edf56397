package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
)

const (
	transportWriteWait = 10 * time.Second
	transportPongWait  = 60 * time.Second
	transportPingEvery = (transportPongWait * 9) / 10
	maxFrameSize       = 512 * 1024
	outgoingQueueSize  = 32
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is the persistent bidirectional event channel to the rendezvous
// server. It is constructor-injected and explicitly owned: connect and close
// are methods, not ambient module state. Delivery is reliable and ordered
// per connection; a disconnect is a hard room exit.
type Transport interface {
	Connect(ctx context.Context) error
	// ConnectionID is assigned by the server during the handshake.
	ConnectionID() domain.ConnectionID
	Send(event string, payload any) error
	// Incoming is closed when the underlying connection dies.
	Incoming() <-chan *protocol.Envelope
	Close() error
}

// WSTransport carries the signaling protocol over a single websocket.
type WSTransport struct {
	url    string
	conn   *websocket.Conn
	connID domain.ConnectionID

	incoming chan *protocol.Envelope
	outgoing chan []byte
	done     chan struct{}

	mu     sync.RWMutex
	closed bool

	logger zerolog.Logger
}

// NewWSTransport builds a transport for ws(s)://host/ws/{roomID}?token={jwt}.
func NewWSTransport(serverURL string, roomID domain.RoomID, token string, logger *zerolog.Logger) *WSTransport {
	return &WSTransport{
		url:      fmt.Sprintf("%s/ws/%s?token=%s", serverURL, roomID, token),
		incoming: make(chan *protocol.Envelope),
		outgoing: make(chan []byte, outgoingQueueSize),
		done:     make(chan struct{}),
		logger:   logger.With().Str("module", "transport").Logger(),
	}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	t.conn = conn
	t.connID = domain.ConnectionID(resp.Header.Get("X-Connection-Id"))
	if t.connID == "" {
		_ = conn.Close()
		return errors.New("server did not assign a connection id")
	}

	t.conn.SetReadLimit(maxFrameSize)
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(transportPongWait))
	})

	go t.readPump()
	go t.writePump()

	t.logger.Debug().Str("conn", string(t.connID)).Msg("connected")
	return nil
}

func (t *WSTransport) ConnectionID() domain.ConnectionID {
	return t.connID
}

func (t *WSTransport) Send(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	select {
	case t.outgoing <- frame:
		return nil
	case <-t.done:
		return ErrTransportClosed
	}
}

func (t *WSTransport) Incoming() <-chan *protocol.Envelope {
	return t.incoming
}

func (t *WSTransport) readPump() {
	defer func() {
		_ = t.conn.Close()
		close(t.incoming)
	}()

	_ = t.conn.SetReadDeadline(time.Now().Add(transportPongWait))

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			t.logger.Error().Err(err).Msg("bad inbound frame")
			continue
		}
		select {
		case t.incoming <- env:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) writePump() {
	ticker := time.NewTicker(transportPingEvery)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
	}()

	for {
		select {
		case frame := <-t.outgoing:
			_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.logger.Error().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			// flush anything queued before Close: the leave announcement
			// must reach the wire ahead of the close frame
			for {
				select {
				case frame := <-t.outgoing:
					_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
					if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
					_ = t.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}
