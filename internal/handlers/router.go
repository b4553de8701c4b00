package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/auth"
	"github.com/pliu/sealedchat/internal/chat"
	"github.com/pliu/sealedchat/internal/metrics"
	"github.com/pliu/sealedchat/internal/middleware"
	"github.com/pliu/sealedchat/internal/realtime"
	"github.com/pliu/sealedchat/internal/store"
	"github.com/pliu/sealedchat/internal/ws"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Store    store.Store
	Chat     *chat.Service
	Dist     *realtime.Distributor
	Signer   *auth.Signer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

func NewRouter(d Deps) *mux.Router {
	authHandler := &AuthHandler{Store: d.Store, Keys: d.Chat.Keys, Signer: d.Signer, Logger: d.Logger}
	chatHandler := &ChatHandler{Chat: d.Chat, Logger: d.Logger}
	wsHandler := ws.NewHandler(d.Chat, d.Dist, d.Logger)

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(d.Logger, d.Metrics))

	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.Ping(r.Context()); err != nil {
			writeError(w, d.Logger, r, apperr.StorageUnavailable(err))
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(d.Signer))
	api.HandleFunc("/users/search", authHandler.SearchUsers).Methods("GET")
	api.HandleFunc("/chat-requests", chatHandler.SendChatRequest).Methods("POST")
	api.HandleFunc("/chat-requests/status", chatHandler.ChatRequestStatus).Methods("GET")
	api.HandleFunc("/chat-requests/pending", chatHandler.PendingRequests).Methods("GET")
	api.HandleFunc("/chat-requests/rejected", chatHandler.RejectedRequests).Methods("GET")
	api.HandleFunc("/chat-requests/{id}/accept", chatHandler.AcceptRequest).Methods("POST")
	api.HandleFunc("/chat-requests/{id}/reject", chatHandler.RejectRequest).Methods("POST")
	api.HandleFunc("/chats", chatHandler.GetChats).Methods("GET")
	api.HandleFunc("/rooms/{id}/messages", chatHandler.SendMessage).Methods("POST")
	api.HandleFunc("/rooms/{id}/messages", chatHandler.GetMessages).Methods("GET")
	api.HandleFunc("/rooms/{id}/conversation", chatHandler.GetConversation).Methods("GET")
	api.HandleFunc("/ws", wsHandler.ServeWs).Methods("GET")

	return r
}
