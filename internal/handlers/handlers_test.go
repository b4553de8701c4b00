package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/sealedchat/internal/auth"
	"github.com/pliu/sealedchat/internal/chat"
	"github.com/pliu/sealedchat/internal/metrics"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/realtime"
	"github.com/pliu/sealedchat/internal/store/sqlstore"
)

var ctx = context.Background()

type testServer struct {
	router *mux.Router
	store  *sqlstore.SQLStore
	svc    *chat.Service
	signer *auth.Signer
	alice  *models.User
	bob    *models.User
	carol  *models.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	dist := realtime.New(realtime.NewMemoryBroker(64), logger, m)
	t.Cleanup(func() { dist.Close() })

	signer, err := auth.NewSigner("handlers-test-secret")
	require.NoError(t, err)

	svc := chat.New(st, dist, logger, m)
	router := NewRouter(Deps{
		Store:    st,
		Chat:     svc,
		Dist:     dist,
		Signer:   signer,
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
	})

	return &testServer{
		router: router,
		store:  st,
		svc:    svc,
		signer: signer,
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

// do sends a request through the router, signed in as user when non-nil.
func (s *testServer) do(t *testing.T, method, path string, body any, user *models.User) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != nil {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: s.signer.Sign(user.ID)})
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "POST", "/signup", Credentials{Username: "dave", Password: "secret"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, "POST", "/signup", Credentials{Username: "dave", Password: "other"}, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, "POST", "/signup", Credentials{Username: "", Password: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, "POST", "/login", Credentials{Username: "dave", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, "POST", "/login", Credentials{Username: "nobody", Password: "secret"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, "POST", "/login", Credentials{Username: "dave", Password: "secret"}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	login := decode[struct {
		envelope
		User models.User `json:"user"`
	}](t, rr)
	assert.True(t, login.Success)
	assert.NotEmpty(t, login.User.EncryptionKey, "login issues a key")

	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			session = c
		}
	}
	require.NotNil(t, session)
	id, err := s.signer.Verify(session.Value)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, id)

	// A second login keeps the same key.
	rr = s.do(t, "POST", "/login", Credentials{Username: "dave", Password: "secret"}, nil)
	again := decode[struct {
		User models.User `json:"user"`
	}](t, rr)
	assert.Equal(t, login.User.EncryptionKey, again.User.EncryptionKey)
}

func TestSignupStorageFailure(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Close())

	rr := s.do(t, "POST", "/signup", Credentials{Username: "erin", Password: "secret"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, rr.Body.String())
	env := decode[envelope](t, rr)
	assert.False(t, env.Success)
	assert.Equal(t, "STORAGE_UNAVAILABLE", env.Code)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/chats", "/chat-requests/pending", "/users/search?q=a", "/rooms/x/conversation"} {
		rr := s.do(t, "GET", path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestSearchUsers(t *testing.T) {
	s := newTestServer(t)
	_, err := s.svc.Keys.EnsureUserKey(ctx, s.bob.ID)
	require.NoError(t, err)
	createUser(t, s.store, "bobby")

	rr := s.do(t, "GET", "/users/search?q=bob", nil, s.bob)
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[struct {
		Users []models.User `json:"users"`
	}](t, rr)
	require.Len(t, res.Users, 1)
	assert.Equal(t, "bobby", res.Users[0].Username)

	rr = s.do(t, "GET", "/users/search?q=bo", nil, s.alice)
	res = decode[struct {
		Users []models.User `json:"users"`
	}](t, rr)
	require.Len(t, res.Users, 2)
	for _, u := range res.Users {
		assert.Empty(t, u.EncryptionKey)
	}

	rr = s.do(t, "GET", "/users/search", nil, s.alice)
	res = decode[struct {
		Users []models.User `json:"users"`
	}](t, rr)
	assert.Empty(t, res.Users)
}

type requestResponse struct {
	envelope
	Request models.ChatRequest `json:"request"`
	Created bool               `json:"created"`
}

func TestChatRequestFlow(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "GET", "/chat-requests/status?receiver_id="+s.bob.ID, nil, s.alice)
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[struct {
		Status models.RequestStatus `json:"status"`
	}](t, rr)
	assert.Equal(t, models.StatusNotRequested, status.Status)

	rr = s.do(t, "POST", "/chat-requests", SendChatRequest{ReceiverID: s.bob.ID}, s.alice)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sent := decode[requestResponse](t, rr)
	assert.True(t, sent.Created)
	assert.Equal(t, models.StatusPending, sent.Request.Status)

	rr = s.do(t, "POST", "/chat-requests", SendChatRequest{ReceiverID: s.bob.ID}, s.alice)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, sent.Request.ID, decode[requestResponse](t, rr).Request.ID)

	rr = s.do(t, "POST", "/chat-requests", SendChatRequest{ReceiverID: s.alice.ID}, s.alice)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, "GET", "/chat-requests/pending", nil, s.bob)
	pending := decode[struct {
		Requests []models.IncomingRequest `json:"requests"`
	}](t, rr)
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, sent.Request.ID, pending.Requests[0].ID)
	assert.Equal(t, s.alice.ID, pending.Requests[0].Sender.ID)
	assert.Equal(t, "alice", pending.Requests[0].Sender.Username)

	// Only the receiver may accept.
	rr = s.do(t, "POST", "/chat-requests/"+sent.Request.ID+"/accept", nil, s.alice)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, "POST", "/chat-requests/"+sent.Request.ID+"/accept", nil, s.bob)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	accepted := decode[struct {
		envelope
		Room models.Room `json:"room"`
	}](t, rr)
	assert.True(t, accepted.Success)
	assert.Equal(t, chat.CanonicalRoomID(s.alice.ID, s.bob.ID), accepted.Room.ID)

	rr = s.do(t, "POST", "/chat-requests/"+sent.Request.ID+"/reject", nil, s.bob)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND_OR_ALREADY_RESOLVED", decode[envelope](t, rr).Code)

	rr = s.do(t, "GET", "/chats", nil, s.alice)
	chats := decode[struct {
		Chats []models.AcceptedChat `json:"chats"`
	}](t, rr)
	require.Len(t, chats.Chats, 1)
	assert.Equal(t, accepted.Room.ID, chats.Chats[0].RoomID)
	assert.Equal(t, "bob", chats.Chats[0].Peer.Username)
}

func TestRejectRequest(t *testing.T) {
	s := newTestServer(t)
	req, _, err := s.svc.Requests.Send(ctx, s.carol.ID, s.bob.ID)
	require.NoError(t, err)

	rr := s.do(t, "POST", "/chat-requests/"+req.ID+"/reject", nil, s.bob)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[envelope](t, rr).Success)

	rr = s.do(t, "GET", "/chat-requests/rejected", nil, s.bob)
	rejected := decode[struct {
		Requests []models.IncomingRequest `json:"requests"`
	}](t, rr)
	require.Len(t, rejected.Requests, 1)
	assert.Equal(t, models.StatusRejected, rejected.Requests[0].Status)
	assert.Equal(t, "carol", rejected.Requests[0].Sender.Username)

	rr = s.do(t, "GET", "/chat-requests/status?receiver_id="+s.bob.ID, nil, s.carol)
	status := decode[struct {
		Status models.RequestStatus `json:"status"`
	}](t, rr)
	assert.Equal(t, models.StatusRejected, status.Status)
}

func TestMessagesAndConversation(t *testing.T) {
	s := newTestServer(t)
	req, _, err := s.svc.Requests.Send(ctx, s.alice.ID, s.bob.ID)
	require.NoError(t, err)
	room, err := s.svc.Requests.Accept(ctx, req.ID, s.bob.ID)
	require.NoError(t, err)

	rr := s.do(t, "POST", "/rooms/"+room.ID+"/messages", SendMessageRequest{Content: "hi"}, s.alice)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sent := decode[struct {
		Message models.Message `json:"message"`
	}](t, rr)
	assert.NotEqual(t, "hi", sent.Message.Content)
	assert.NotEmpty(t, sent.Message.IV)

	rr = s.do(t, "POST", "/rooms/"+room.ID+"/messages", SendMessageRequest{Content: "x", IV: "AAAA"}, s.alice)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, "POST", "/rooms/"+room.ID+"/messages", SendMessageRequest{Content: "intruder"}, s.carol)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, "GET", "/rooms/"+room.ID+"/messages", nil, s.bob)
	require.Equal(t, http.StatusOK, rr.Code)
	raw := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rr)
	require.Len(t, raw.Messages, 1)
	assert.Equal(t, sent.Message.Content, raw.Messages[0].Content)

	rr = s.do(t, "GET", "/rooms/"+room.ID+"/conversation", nil, s.bob)
	require.Equal(t, http.StatusOK, rr.Code)
	conv := decode[struct {
		Messages []models.DisplayMessage `json:"messages"`
	}](t, rr)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hi", conv.Messages[0].Text)
	assert.False(t, conv.Messages[0].Own)

	rr = s.do(t, "GET", "/rooms/"+room.ID+"/conversation", nil, s.carol)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "GET", "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, "GET", "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "sealedchat_http_request_duration_seconds"), rr.Body.String())
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/chat-requests", strings.NewReader("{"))
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: s.signer.Sign(s.alice.ID)})
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	env := decode[envelope](t, rr)
	assert.False(t, env.Success)
	assert.Equal(t, "INVALID_INPUT", env.Code)
}
