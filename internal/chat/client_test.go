package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"
	"github.com/umar/roomchat/internal/auth"
	"github.com/umar/roomchat/internal/models"
)

const testSecret = "test-secret"

type testRooms struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
	users map[string]models.Principal
}

func (r *testRooms) UpsertUser(_ context.Context, p models.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[p.ID] = p
	return nil
}

func (r *testRooms) CreateOrGetRoom(_ context.Context, name string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok {
		room = &models.Room{ID: "room-" + name, Name: name, IsActive: true}
		r.rooms[name] = room
	}
	return room, nil
}

type testServer struct {
	*httptest.Server
	bus     *Bus
	handler *Handler
}

func newTestServer(t *testing.T, cfg HandlerConfig) *testServer {
	t.Helper()
	store := &testStore{
		T: t,
		postMessage: func(t *testing.T, roomID, authorID, content string, parentID *string) (*models.MessageView, error) {
			author := map[string]models.Principal{alice.ID: alice, bob.ID: bob}[authorID]
			return newView(roomID, author, content), nil
		},
	}
	router, bus := newTestRouter(t, store, nil)
	rooms := &testRooms{
		rooms: map[string]*models.Room{"closed": {ID: "room-closed", Name: "closed", IsActive: false}},
		users: make(map[string]models.Principal),
	}
	cfg.JWTSecret = testSecret
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 1000
		cfg.RateBurst = 1000
	}
	h := NewHandler(rooms, router, slogt.New(t), cfg)

	m := mux.NewRouter()
	m.HandleFunc("/ws/rooms/{room}", h.ServeWS).Methods("GET")
	srv := httptest.NewServer(m)
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return &testServer{Server: srv, bus: bus, handler: h}
}

func (s *testServer) url(room string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/rooms/" + room
}

func token(t *testing.T, p models.Principal) string {
	t.Helper()
	tok, err := auth.GenerateToken(p, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (s *testServer) dial(t *testing.T, room string, p models.Principal) *websocket.Conn {
	t.Helper()
	header := http.Header{"Authorization": []string{"Bearer " + token(t, p)}}
	conn, resp, err := websocket.DefaultDialer.Dial(s.url(room), header)
	if err != nil {
		t.Fatalf("dial as %s: %v (status %v)", p.Username, err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until one of type want arrives. Frames of type
// forbid fail the test.
func readUntil(t *testing.T, conn *websocket.Conn, want string, forbid ...string) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		for _, f := range forbid {
			if msg.Type == f {
				t.Fatalf("received forbidden %q frame: %s", f, data)
			}
		}
		if msg.Type == want {
			return msg
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeWS_RejectsBeforeUpgrade(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})

	tests := []struct {
		name       string
		room       string
		header     http.Header
		query      string
		wantStatus int
	}{
		{name: "NoToken", room: "general", wantStatus: http.StatusUnauthorized},
		{name: "BadToken", room: "general", header: http.Header{"Authorization": []string{"Bearer nope"}}, wantStatus: http.StatusUnauthorized},
		{name: "WrongSecret", room: "general", query: "?token=" + mustToken(t, alice, "other-secret"), wantStatus: http.StatusUnauthorized},
		{name: "InactiveRoom", room: "closed", query: "?token=" + token(t, alice), wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(srv.url(tt.room)+tt.query, tt.header)
			if err == nil {
				t.Fatal("Dial() succeeded, want handshake failure")
			}
			if resp == nil || resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %v, want %d", resp, tt.wantStatus)
			}
		})
	}
	if n := srv.bus.Subscribers("room-general"); n != 0 {
		t.Errorf("rejected connections joined the bus: %d", n)
	}
}

func mustToken(t *testing.T, p models.Principal, secret string) string {
	t.Helper()
	tok, err := auth.GenerateToken(p, secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestServeWS_QueryToken(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})
	conn, _, err := websocket.DefaultDialer.Dial(srv.url("general")+"?token="+token(t, alice), nil)
	if err != nil {
		t.Fatalf("Dial() with query token: %v", err)
	}
	defer conn.Close()
	readUntil(t, conn, string(EventUserJoined))
}

func TestServeWS_TypingAndMessages(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})
	a := srv.dial(t, "general", alice)
	readUntil(t, a, string(EventUserJoined))
	b := srv.dial(t, "general", bob)
	readUntil(t, b, string(EventUserJoined))
	// alice sees bob arrive.
	joined := readUntil(t, a, string(EventUserJoined))
	var member MemberPayload
	json.Unmarshal(joined.Payload, &member)
	if member.Username != "bob" || member.OnlineCount != 2 {
		t.Errorf("userJoined = %+v, want bob with 2 online", member)
	}

	send(t, a, frame(t, TypeTyping, TypingPayload{IsTyping: true}))
	typing := readUntil(t, b, TypeTyping)
	var tp TypingUpdatePayload
	json.Unmarshal(typing.Payload, &tp)
	if tp.UserID != alice.ID || !tp.IsTyping {
		t.Errorf("typing = %+v, want alice typing", tp)
	}

	send(t, a, frame(t, TypeMessage, SendMessagePayload{Message: "hello bob"}))
	// Typing and newMessage share alice's event queue, so an echo would
	// arrive before her own message.
	mine := readUntil(t, a, string(EventNewMessage), TypeTyping)
	theirs := readUntil(t, b, string(EventNewMessage))

	var mf, tf MessageFrame
	json.Unmarshal(mine.Payload, &mf)
	json.Unmarshal(theirs.Payload, &tf)
	if !mf.IsOwn || tf.IsOwn {
		t.Errorf("isOwn alice=%v bob=%v, want true,false", mf.IsOwn, tf.IsOwn)
	}
	if mf.ID != tf.ID || tf.Content != "hello bob" || tf.AuthorName != "Alice" {
		t.Errorf("bob received %+v", tf)
	}
}

func TestServeWS_DisconnectLeavesBus(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})
	a := srv.dial(t, "general", alice)
	b := srv.dial(t, "general", bob)
	waitFor(t, "both subscribers", func() bool { return srv.bus.Subscribers("room-general") == 2 })

	b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.Close()

	left := readUntil(t, a, string(EventUserLeft))
	var member MemberPayload
	json.Unmarshal(left.Payload, &member)
	if member.UserID != bob.ID || member.OnlineCount != 1 {
		t.Errorf("userLeft = %+v, want bob with 1 online", member)
	}
	waitFor(t, "bob to leave the bus", func() bool { return srv.bus.Subscribers("room-general") == 1 })
}

func TestServeWS_AbruptDisconnect(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})
	for i := 0; i < 5; i++ {
		c := srv.dial(t, "general", bob)
		c.UnderlyingConn().Close()
	}
	waitFor(t, "dead connections to leave", func() bool { return srv.bus.Subscribers("room-general") == 0 })
}

func TestServeWS_FrameErrorsKeepConnection(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{})
	a := srv.dial(t, "general", alice)

	send(t, a, []byte(`{"type":"launchRockets"}`))
	msg := readUntil(t, a, TypeError)
	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != "UNKNOWN_TYPE" || p.RequestType != "launchRockets" {
		t.Errorf("error = %+v, want UNKNOWN_TYPE for launchRockets", p)
	}

	send(t, a, []byte(`not json`))
	msg = readUntil(t, a, TypeError)
	json.Unmarshal(msg.Payload, &p)
	if p.Code != "INVALID_PAYLOAD" {
		t.Errorf("error code = %q, want INVALID_PAYLOAD", p.Code)
	}

	send(t, a, []byte(`{"type":"fetchOnlineUsers"}`))
	readUntil(t, a, TypeOnlineUsers)
}

func TestServeWS_RateLimited(t *testing.T) {
	srv := newTestServer(t, HandlerConfig{RatePerSecond: 0.001, RateBurst: 1})
	a := srv.dial(t, "general", alice)

	send(t, a, []byte(`{"type":"fetchOnlineUsers"}`))
	readUntil(t, a, TypeOnlineUsers)
	send(t, a, []byte(`{"type":"fetchOnlineUsers"}`))
	msg := readUntil(t, a, TypeError, TypeOnlineUsers)
	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != "RATE_LIMITED" {
		t.Errorf("error code = %q, want RATE_LIMITED", p.Code)
	}
}
