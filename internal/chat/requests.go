package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/metrics"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/realtime"
	"github.com/pliu/sealedchat/internal/store"
)

// Requests is the chat-request state machine:
//
//	NOT_REQUESTED -> PENDING -> ACCEPTED | REJECTED
//
// Only the receiver resolves a request, and resolved requests never
// change again. There is at most one request per unordered pair of
// users: a counter-request returns the existing one.
type Requests struct {
	store   store.Store
	pub     *publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Send creates a PENDING request from senderID to receiverID, or
// returns the request that already exists for the pair unchanged. The
// boolean reports whether a new request was created.
func (r *Requests) Send(ctx context.Context, senderID, receiverID string) (*models.ChatRequest, bool, error) {
	if senderID == "" {
		return nil, false, apperr.ErrUnauthenticated
	}
	if receiverID == "" {
		return nil, false, apperr.InvalidInput("receiver id is required")
	}
	if senderID == receiverID {
		return nil, false, apperr.InvalidInput("cannot send a chat request to yourself")
	}

	existing, err := r.store.GetChatRequestForPair(ctx, senderID, receiverID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, storageErr(err)
	}

	if _, err := r.store.GetUserByID(ctx, receiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, apperr.InvalidInput("receiver not found")
		}
		return nil, false, storageErr(err)
	}

	req := &models.ChatRequest{SenderID: senderID, ReceiverID: receiverID, Status: models.StatusPending}
	inserted, err := r.store.CreateChatRequest(ctx, req)
	if err != nil {
		return nil, false, storageErr(err)
	}
	if !inserted {
		existing, err := r.store.GetChatRequestForPair(ctx, senderID, receiverID)
		return existing, false, storageErr(err)
	}

	r.metrics.ChatRequestTransitions.WithLabelValues(string(models.StatusPending)).Inc()
	r.logger.Info("chat request sent", "request_id", req.ID, "sender_id", senderID, "receiver_id", receiverID)
	r.pub.publish(ctx, realtime.TableChatRequest, realtime.OpInsert, req,
		realtime.UserTopic(receiverID), realtime.UserTopic(senderID))
	return req, true, nil
}

// Status reports the state of the pair's request, NOT_REQUESTED when
// there is none. The request is returned when it exists.
func (r *Requests) Status(ctx context.Context, senderID, receiverID string) (models.RequestStatus, *models.ChatRequest, error) {
	if senderID == "" {
		return "", nil, apperr.ErrUnauthenticated
	}
	if receiverID == "" {
		return "", nil, apperr.InvalidInput("receiver id is required")
	}
	req, err := r.store.GetChatRequestForPair(ctx, senderID, receiverID)
	if errors.Is(err, store.ErrNotFound) {
		return models.StatusNotRequested, nil, nil
	}
	if err != nil {
		return "", nil, storageErr(err)
	}
	return req.Status, req, nil
}

// Accept moves a PENDING request addressed to actingUserID to ACCEPTED
// and returns the room shared by the two users. Any other request,
// including one that exists but belongs to someone else, fails with
// apperr.ErrNotFoundOrAlreadyResolved.
//
// The transition and the room are committed together: if storage fails
// the request stays PENDING and Accept can be retried.
func (r *Requests) Accept(ctx context.Context, requestID, actingUserID string) (*models.Room, error) {
	req, err := r.pendingFor(ctx, requestID, actingUserID)
	if err != nil {
		return nil, err
	}
	room := newRoom(req.ReceiverID, req.SenderID)
	ok, err := r.store.AcceptChatRequest(ctx, requestID, actingUserID, room, req.ReceiverID, req.SenderID)
	if err != nil {
		return nil, storageErr(err)
	}
	if !ok {
		return nil, apperr.ErrNotFoundOrAlreadyResolved
	}
	room, err = r.store.GetRoom(ctx, room.ID)
	if err != nil {
		return nil, storageErr(err)
	}
	req.Status = models.StatusAccepted
	r.resolved(ctx, req)
	return room, nil
}

// Reject moves a PENDING request addressed to actingUserID to
// REJECTED. No room is created.
func (r *Requests) Reject(ctx context.Context, requestID, actingUserID string) error {
	req, err := r.pendingFor(ctx, requestID, actingUserID)
	if err != nil {
		return err
	}
	ok, err := r.store.ResolveChatRequest(ctx, requestID, actingUserID, models.StatusRejected)
	if err != nil {
		return storageErr(err)
	}
	if !ok {
		return apperr.ErrNotFoundOrAlreadyResolved
	}
	req.Status = models.StatusRejected
	r.resolved(ctx, req)
	return nil
}

// pendingFor loads a request that actingUserID may still resolve. The
// conditional store update remains the authority under concurrency.
func (r *Requests) pendingFor(ctx context.Context, requestID, actingUserID string) (*models.ChatRequest, error) {
	if actingUserID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if requestID == "" {
		return nil, apperr.ErrNotFoundOrAlreadyResolved
	}
	req, err := r.store.GetChatRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFoundOrAlreadyResolved
	}
	if err != nil {
		return nil, storageErr(err)
	}
	if req.ReceiverID != actingUserID || req.Status != models.StatusPending {
		return nil, apperr.ErrNotFoundOrAlreadyResolved
	}
	return req, nil
}

func (r *Requests) resolved(ctx context.Context, req *models.ChatRequest) {
	r.metrics.ChatRequestTransitions.WithLabelValues(string(req.Status)).Inc()
	r.logger.Info("chat request resolved", "request_id", req.ID, "status", req.Status)
	r.pub.publish(ctx, realtime.TableChatRequest, realtime.OpUpdate, req,
		realtime.UserTopic(req.SenderID), realtime.UserTopic(req.ReceiverID))
}

// Pending lists the requests waiting for receiverID to act on.
func (r *Requests) Pending(ctx context.Context, receiverID string) ([]models.IncomingRequest, error) {
	return r.listForReceiver(ctx, receiverID, models.StatusPending)
}

// Rejected lists the requests receiverID has rejected.
func (r *Requests) Rejected(ctx context.Context, receiverID string) ([]models.IncomingRequest, error) {
	return r.listForReceiver(ctx, receiverID, models.StatusRejected)
}

func (r *Requests) listForReceiver(ctx context.Context, receiverID string, status models.RequestStatus) ([]models.IncomingRequest, error) {
	if receiverID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	reqs, err := r.store.ListChatRequestsForReceiver(ctx, receiverID, status)
	return reqs, storageErr(err)
}

// Accepted lists userID's accepted conversations with their room ids.
func (r *Requests) Accepted(ctx context.Context, userID string) ([]models.AcceptedChat, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	chats, err := r.store.ListAcceptedChats(ctx, userID)
	return chats, storageErr(err)
}
