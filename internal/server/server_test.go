package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmikhailov/coderoom/internal/config"
	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/protocol"
	"github.com/lmikhailov/coderoom/internal/storage/memory"
)

const testSecret = "test-secret"

// stubRunner returns a fixed output for every run request.
type stubRunner struct{ output string }

func (r stubRunner) Run(context.Context, domain.Language, string) (string, error) {
	return r.output, nil
}

type testServer struct {
	ts  *httptest.Server
	srv *Server
}

func newTestServer(t *testing.T, runner stubRunner) *testServer {
	t.Helper()

	cfg := &config.Config{
		Mode:       "release",
		Secret:     testSecret,
		ReadLimit:  65536,
		PingPeriod: 54 * time.Second,
	}
	logger := zerolog.Nop()
	srv := New(cfg, memory.NewMemStore(), runner, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(srv.SetupRouter(ctx))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return &testServer{ts: ts, srv: srv}
}

func (s *testServer) post(t *testing.T, path, token string, body any) (*http.Response, []byte) {
	return s.request(t, http.MethodPost, path, token, body)
}

func (s *testServer) request(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	data, err := readBody(resp)
	require.NoError(t, err)
	return resp, data
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	return buf.Bytes(), err
}

func (s *testServer) login(t *testing.T, email string) (string, domain.User) {
	t.Helper()
	resp, data := s.post(t, "/api/auth/login", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var out LoginResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out.Token, out.User
}

func (s *testServer) createRoom(t *testing.T, token, roomID string) domain.RoomMeta {
	t.Helper()
	resp, data := s.post(t, "/api/rooms/create", token, map[string]string{"roomId": roomID})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var out roomResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out.Room
}

// wsClient is a raw signaling connection speaking the wire protocol.
type wsClient struct {
	conn   *websocket.Conn
	connID domain.ConnectionID
}

func (s *testServer) dial(t *testing.T, roomID, token string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/" + roomID + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	connID := domain.ConnectionID(resp.Header.Get(ConnectionIDHeader))
	require.NotEmpty(t, connID, "handshake must assign a connection id")
	return &wsClient{conn: conn, connID: connID}
}

func (c *wsClient) send(t *testing.T, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

// waitFor reads frames until one with the wanted event arrives.
func (c *wsClient) waitFor(t *testing.T, event string) *protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		if env.Event == event {
			return env
		}
	}
}

func (c *wsClient) join(t *testing.T, roomID string, user domain.User) {
	t.Helper()
	c.send(t, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: domain.RoomID(roomID), User: user})
	c.waitFor(t, protocol.EventRoomMembers)
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	s := newTestServer(t, stubRunner{})

	token, user := s.login(t, "dev@example.com")
	assert.Equal(t, "dev@example.com", user.Email)
	assert.NotEmpty(t, user.ID)

	parsed, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, parsed.ID)
	assert.Equal(t, user.Email, parsed.Email)
}

func TestLoginRejectsBadEmail(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	resp, _ := s.post(t, "/api/auth/login", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseTokenRejectsForgery(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	token, _ := s.login(t, "dev@example.com")

	_, err := ParseToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken(testSecret, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	token, _ := s.login(t, "owner@example.com")

	room := s.createRoom(t, token, "interview-1")
	assert.Equal(t, domain.RoomID("interview-1"), room.ID)

	// duplicate id
	resp, _ := s.post(t, "/api/rooms/create", token, map[string]string{"roomId": "interview-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// generated id
	generated := s.createRoom(t, token, "")
	assert.NotEmpty(t, generated.ID)

	resp, data := s.request(t, http.MethodGet, "/api/rooms/interview-1", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got roomResponse
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, room.CreatedBy, got.Room.CreatedBy)

	resp, _ = s.request(t, http.MethodGet, "/api/rooms/no-such-room", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoomAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	resp, _ := s.post(t, "/api/rooms/create", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.post(t, "/api/rooms/create", "bogus-token", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeleteRoomCreatorOnly(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	ownerToken, _ := s.login(t, "owner@example.com")
	otherToken, _ := s.login(t, "other@example.com")

	s.createRoom(t, ownerToken, "owned")

	resp, _ := s.request(t, http.MethodDelete, "/api/rooms/owned", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.request(t, http.MethodDelete, "/api/rooms/owned", ownerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.request(t, http.MethodGet, "/api/rooms/owned", ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignalHandshakeGuards(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	token, _ := s.login(t, "dev@example.com")
	s.createRoom(t, token, "guarded")

	base := "ws" + strings.TrimPrefix(s.ts.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/guarded?token=bogus", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"/ws/no-such-room?token="+token, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinFansOutMembership(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	tokenA, userA := s.login(t, "alice@example.com")
	tokenB, userB := s.login(t, "bob@example.com")
	s.createRoom(t, tokenA, "r")

	a := s.dial(t, "r", tokenA)
	a.send(t, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: "r", User: userA})
	env := a.waitFor(t, protocol.EventRoomMembers)
	var members []domain.Participant
	require.NoError(t, env.Payload(&members))
	require.Len(t, members, 1)
	assert.Equal(t, a.connID, members[0].ConnectionID)

	b := s.dial(t, "r", tokenB)
	b.send(t, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: "r", User: userB})

	// both ends see the two-member snapshot
	env = a.waitFor(t, protocol.EventRoomMembers)
	require.NoError(t, env.Payload(&members))
	require.Len(t, members, 2)
	assert.Equal(t, "bob@example.com", members[1].Email)

	env = b.waitFor(t, protocol.EventRoomMembers)
	require.NoError(t, env.Payload(&members))
	assert.Len(t, members, 2)
}

func TestLeaveNotifiesRemaining(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	tokenA, userA := s.login(t, "alice@example.com")
	tokenB, userB := s.login(t, "bob@example.com")
	s.createRoom(t, tokenA, "r")

	a := s.dial(t, "r", tokenA)
	a.join(t, "r", userA)
	b := s.dial(t, "r", tokenB)
	b.join(t, "r", userB)
	a.waitFor(t, protocol.EventRoomMembers)

	b.send(t, protocol.EventLeaveRoom, domain.RoomID("r"))

	env := a.waitFor(t, protocol.EventUserLeft)
	var left domain.ConnectionID
	require.NoError(t, env.Payload(&left))
	assert.Equal(t, b.connID, left)

	env = a.waitFor(t, protocol.EventRoomMembers)
	var members []domain.Participant
	require.NoError(t, env.Payload(&members))
	assert.Len(t, members, 1)
}

func TestMembershipDedupsByUser(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	token, user := s.login(t, "alice@example.com")
	s.createRoom(t, token, "r")

	first := s.dial(t, "r", token)
	first.join(t, "r", user)

	// same user joins again on a second connection before the first dies
	second := s.dial(t, "r", token)
	second.send(t, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: "r", User: user})

	env := second.waitFor(t, protocol.EventRoomMembers)
	var members []domain.Participant
	require.NoError(t, env.Payload(&members))
	require.Len(t, members, 1)
	assert.Equal(t, second.connID, members[0].ConnectionID)
}

func TestJoinVideoAnnouncesAndSyncs(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	tokenA, userA := s.login(t, "alice@example.com")
	tokenB, userB := s.login(t, "bob@example.com")
	s.createRoom(t, tokenA, "r")

	a := s.dial(t, "r", tokenA)
	a.join(t, "r", userA)
	a.send(t, protocol.EventJoinVideoRoom, protocol.JoinVideoRoom{RoomID: "r", User: userA})
	a.waitFor(t, protocol.EventMediaSync)

	// alice mutes before bob arrives
	a.send(t, protocol.EventMediaStateChanged, protocol.MediaStateChanged{
		RoomID: "r", SocketID: a.connID, VideoOn: false, AudioOn: true,
	})

	b := s.dial(t, "r", tokenB)
	b.join(t, "r", userB)
	b.send(t, protocol.EventJoinVideoRoom, protocol.JoinVideoRoom{RoomID: "r", User: userB})

	// existing mesh member learns about the newcomer
	env := a.waitFor(t, protocol.EventNewParticipant)
	var np protocol.NewParticipant
	require.NoError(t, env.Payload(&np))
	assert.Equal(t, b.connID, np.From)
	assert.Equal(t, "bob@example.com", np.User.Email)

	// newcomer gets the current flags, including the pre-join mute
	env = b.waitFor(t, protocol.EventMediaSync)
	var sync []protocol.MediaSyncEntry
	require.NoError(t, env.Payload(&sync))
	require.Len(t, sync, 2)
	assert.Equal(t, a.connID, sync[0].SocketID)
	assert.False(t, sync[0].VideoOn)
	assert.True(t, sync[0].AudioOn)
}

func TestOfferRoutedWithSenderIdentity(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	tokenA, userA := s.login(t, "alice@example.com")
	tokenB, userB := s.login(t, "bob@example.com")
	s.createRoom(t, tokenA, "r")

	a := s.dial(t, "r", tokenA)
	a.join(t, "r", userA)
	b := s.dial(t, "r", tokenB)
	b.join(t, "r", userB)

	a.send(t, protocol.EventOffer, protocol.Offer{
		To:  b.connID,
		SDP: protocol.SessionDescription{Type: "offer", SDP: "v=0"},
	})

	env := b.waitFor(t, protocol.EventOffer)
	var offer protocol.Offer
	require.NoError(t, env.Payload(&offer))
	assert.Equal(t, a.connID, offer.From)
	assert.Empty(t, offer.To)
	assert.Equal(t, "v=0", offer.SDP.SDP)
	require.NotNil(t, offer.User)
	assert.Equal(t, "alice@example.com", offer.User.Email)

	b.send(t, protocol.EventAnswer, protocol.Answer{
		To:  a.connID,
		SDP: protocol.SessionDescription{Type: "answer", SDP: "v=0"},
	})
	env = a.waitFor(t, protocol.EventAnswer)
	var answer protocol.Answer
	require.NoError(t, env.Payload(&answer))
	assert.Equal(t, b.connID, answer.From)

	b.send(t, protocol.EventICECandidate, protocol.ICEMessage{
		To:        a.connID,
		Candidate: protocol.ICECandidate{Candidate: "candidate:1"},
	})
	env = a.waitFor(t, protocol.EventICECandidate)
	var ice protocol.ICEMessage
	require.NoError(t, env.Payload(&ice))
	assert.Equal(t, b.connID, ice.From)
	assert.Equal(t, "candidate:1", ice.Candidate.Candidate)
}

func TestCodeAndLanguageRebroadcastToOthers(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	tokenA, userA := s.login(t, "alice@example.com")
	tokenB, userB := s.login(t, "bob@example.com")
	s.createRoom(t, tokenA, "r")

	a := s.dial(t, "r", tokenA)
	a.join(t, "r", userA)
	b := s.dial(t, "r", tokenB)
	b.join(t, "r", userB)
	a.waitFor(t, protocol.EventRoomMembers)

	a.send(t, protocol.EventCodeChange, protocol.CodeChange{RoomID: "r", Code: "x = 1"})
	env := b.waitFor(t, protocol.EventCodeChange)
	var code string
	require.NoError(t, env.Payload(&code))
	assert.Equal(t, "x = 1", code)

	a.send(t, protocol.EventLanguageChange, protocol.LanguageChange{RoomID: "r", Language: "python"})
	env = b.waitFor(t, protocol.EventLanguageChange)
	var lang string
	require.NoError(t, env.Payload(&lang))
	assert.Equal(t, "python", lang)
}

func TestRunCodeBroadcastsToEveryoneIncludingRequester(t *testing.T) {
	s := newTestServer(t, stubRunner{output: "hello\n"})
	tokenA, userA := s.login(t, "alice@example.com")
	tokenB, userB := s.login(t, "bob@example.com")
	s.createRoom(t, tokenA, "r")

	a := s.dial(t, "r", tokenA)
	a.join(t, "r", userA)
	b := s.dial(t, "r", tokenB)
	b.join(t, "r", userB)

	a.send(t, protocol.EventRunCode, protocol.RunCode{
		RoomID: "r", Code: "print('hello')", Language: "python",
	})

	for _, c := range []*wsClient{a, b} {
		env := c.waitFor(t, protocol.EventCodeOutput)
		var out protocol.CodeOutput
		require.NoError(t, env.Payload(&out))
		assert.Equal(t, "hello\n", out.Output)
	}
}

func TestRunCodeRejectsUnknownLanguage(t *testing.T) {
	s := newTestServer(t, stubRunner{output: "never"})
	token, user := s.login(t, "alice@example.com")
	s.createRoom(t, token, "r")

	a := s.dial(t, "r", token)
	a.join(t, "r", user)

	a.send(t, protocol.EventRunCode, protocol.RunCode{RoomID: "r", Code: "x", Language: "cobol"})
	env := a.waitFor(t, protocol.EventCodeOutput)
	var out protocol.CodeOutput
	require.NoError(t, env.Payload(&out))
	assert.Contains(t, out.Output, "unsupported language")
}

func TestDeleteRoomEvictsLiveMembers(t *testing.T) {
	s := newTestServer(t, stubRunner{})
	tokenA, userA := s.login(t, "alice@example.com")
	tokenB, userB := s.login(t, "bob@example.com")
	s.createRoom(t, tokenA, "r")

	a := s.dial(t, "r", tokenA)
	a.join(t, "r", userA)
	b := s.dial(t, "r", tokenB)
	b.join(t, "r", userB)

	resp, _ := s.request(t, http.MethodDelete, "/api/rooms/r", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	a.waitFor(t, protocol.EventRoomDeleted)
	b.waitFor(t, protocol.EventRoomDeleted)
}
