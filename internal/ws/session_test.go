package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/sealedchat/internal/auth"
	"github.com/pliu/sealedchat/internal/chat"
	"github.com/pliu/sealedchat/internal/crypto"
	"github.com/pliu/sealedchat/internal/metrics"
	"github.com/pliu/sealedchat/internal/middleware"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/realtime"
	"github.com/pliu/sealedchat/internal/store/sqlstore"
)

var ctx = context.Background()

type testEnv struct {
	svc    *chat.Service
	store  *sqlstore.SQLStore
	signer *auth.Signer
	server *httptest.Server
	alice  *models.User
	bob    *models.User
	carol  *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	dist := realtime.New(realtime.NewMemoryBroker(64), logger, m)
	t.Cleanup(func() { dist.Close() })

	signer, err := auth.NewSigner("websocket-test-secret")
	require.NoError(t, err)

	svc := chat.New(st, dist, logger, m)
	r := mux.NewRouter()
	r.Handle("/ws", middleware.AuthMiddleware(signer)(http.HandlerFunc(NewHandler(svc, dist, logger).ServeWs)))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{
		svc:    svc,
		store:  st,
		signer: signer,
		server: srv,
		alice:  createUser(t, st, "alice"),
		bob:    createUser(t, st, "bob"),
		carol:  createUser(t, st, "carol"),
	}
}

func createUser(t *testing.T, st *sqlstore.SQLStore, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Password: "pass"}
	require.NoError(t, st.CreateUser(ctx, u))
	return u
}

func (e *testEnv) connect(t *testing.T, sender, receiver *models.User) *models.Room {
	t.Helper()
	req, _, err := e.svc.Requests.Send(ctx, sender.ID, receiver.ID)
	require.NoError(t, err)
	room, err := e.svc.Requests.Accept(ctx, req.ID, receiver.ID)
	require.NoError(t, err)
	return room
}

func (e *testEnv) dial(t *testing.T, user *models.User, roomID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if roomID != "" {
		url += "?room=" + roomID
	}
	header := http.Header{}
	if user != nil {
		header.Set("Cookie", auth.CookieName+"="+e.signer.Sign(user.ID))
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestSessionSnapshotThenLiveMessages(t *testing.T) {
	env := newTestEnv(t)
	room := env.connect(t, env.alice, env.bob)
	_, err := env.svc.Messages.Send(ctx, env.alice.ID, room.ID, "before")
	require.NoError(t, err)

	conn, _, err := env.dial(t, env.bob, room.ID)
	require.NoError(t, err)

	snap := readFrame(t, conn)
	assert.Equal(t, FrameSnapshot, snap.Type)
	assert.Equal(t, room.ID, snap.RoomID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "before", snap.Messages[0].Text)
	assert.False(t, snap.Messages[0].Own)

	_, err = env.svc.Messages.Send(ctx, env.alice.ID, room.ID, "after")
	require.NoError(t, err)

	live := readFrame(t, conn)
	assert.Equal(t, FrameMessage, live.Type)
	assert.Equal(t, realtime.OpInsert, live.Operation)
	require.NotNil(t, live.Message)
	assert.Equal(t, "after", live.Message.Text)
	assert.True(t, live.Message.Encrypted)
	assert.False(t, live.Message.Own)
}

func TestSessionSendFrame(t *testing.T) {
	env := newTestEnv(t)
	room := env.connect(t, env.alice, env.bob)

	conn, _, err := env.dial(t, env.alice, room.ID)
	require.NoError(t, err)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "content": "hi"}))
	echo := readFrame(t, conn)
	assert.Equal(t, FrameMessage, echo.Type)
	require.NotNil(t, echo.Message)
	assert.Equal(t, "hi", echo.Message.Text)
	assert.True(t, echo.Message.Own)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealed, err := crypto.Encrypt(key, "client sealed")
	require.NoError(t, err)
	iv, content := crypto.EncodeSealed(sealed)
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       "send",
		"content":    content,
		"iv":         iv,
		"sender_key": crypto.ExportKey(key),
	}))
	sealedEcho := readFrame(t, conn)
	require.NotNil(t, sealedEcho.Message)
	assert.Equal(t, "client sealed", sealedEcho.Message.Text)

	msgs, err := env.svc.Messages.List(ctx, env.bob.ID, room.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestSessionRejectsBadFrames(t *testing.T) {
	env := newTestEnv(t)
	room := env.connect(t, env.alice, env.bob)

	conn, _, err := env.dial(t, env.alice, room.ID)
	require.NoError(t, err)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, FrameError, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "content": ""}))
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.NotEmpty(t, f.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "content": "x", "iv": "AAAA"}))
	assert.Equal(t, FrameError, readFrame(t, conn).Type)
}

func TestSessionChatRequestEvents(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := env.dial(t, env.bob, "")
	require.NoError(t, err)
	snap := readFrame(t, conn)
	assert.Equal(t, FrameSnapshot, snap.Type)
	assert.Empty(t, snap.Messages)

	req, _, err := env.svc.Requests.Send(ctx, env.alice.ID, env.bob.ID)
	require.NoError(t, err)

	f := readFrame(t, conn)
	assert.Equal(t, FrameChatRequest, f.Type)
	assert.Equal(t, realtime.OpInsert, f.Operation)
	require.NotNil(t, f.Request)
	assert.Equal(t, req.ID, f.Request.ID)
	assert.Equal(t, models.StatusPending, f.Request.Status)

	_, err = env.svc.Requests.Accept(ctx, req.ID, env.bob.ID)
	require.NoError(t, err)

	f = readFrame(t, conn)
	assert.Equal(t, realtime.OpUpdate, f.Operation)
	assert.Equal(t, models.StatusAccepted, f.Request.Status)
}

func TestSessionHandshakeGuards(t *testing.T) {
	env := newTestEnv(t)
	room := env.connect(t, env.alice, env.bob)

	_, resp, err := env.dial(t, nil, room.ID)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = env.dial(t, env.carol, room.ID)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSnapshotDedupeOnlyHoldsSnapshotIDs(t *testing.T) {
	env := newTestEnv(t)
	s := &session{
		userID: env.bob.ID,
		h:      &Handler{chat: env.svc},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		seen:   map[string]bool{"m1": true},
	}
	event := func(id string) realtime.Event {
		ev, err := realtime.NewEvent(realtime.TableMessage, realtime.OpInsert,
			&models.Message{ID: id, RoomID: "r", SenderID: env.alice.ID, Content: "hello"})
		require.NoError(t, err)
		return ev
	}

	_, ok := s.frame(event("m1"))
	assert.False(t, ok, "snapshot message is not delivered twice")
	assert.Empty(t, s.seen)

	for _, id := range []string{"m2", "m3"} {
		f, ok := s.frame(event(id))
		require.True(t, ok)
		assert.Equal(t, "hello", f.Message.Text)
	}
	assert.Empty(t, s.seen, "live messages are not remembered")
}
