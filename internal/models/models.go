package models

import "time"

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Password      string `json:"-"`
	EncryptionKey string `json:"encryption_key,omitempty"`
}

// RequestStatus is the state of a chat request. NOT_REQUESTED is never
// stored; it is reported when no row exists for a pair.
type RequestStatus string

const (
	StatusNotRequested RequestStatus = "NOT_REQUESTED"
	StatusPending      RequestStatus = "PENDING"
	StatusAccepted     RequestStatus = "ACCEPTED"
	StatusRejected     RequestStatus = "REJECTED"
)

type ChatRequest struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Peer returns the participant of r that is not userID.
func (r *ChatRequest) Peer(userID string) string {
	if r.SenderID == userID {
		return r.ReceiverID
	}
	return r.SenderID
}

// IncomingRequest is a request joined with the user who sent it.
type IncomingRequest struct {
	ChatRequest
	Sender User `json:"sender"`
}

// AcceptedChat is an accepted request joined with its room. RoomID is
// empty if the room row has not been created yet.
type AcceptedChat struct {
	ChatRequest
	Peer   User   `json:"peer"`
	RoomID string `json:"room_id,omitempty"`
}

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomMember struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

// Message is a stored chat message. When SenderEncryptionKey is empty,
// Content is legacy plaintext; otherwise it is base64 ciphertext and IV
// is the base64 nonce.
type Message struct {
	ID                  string    `json:"id"`
	RoomID              string    `json:"room_id"`
	SenderID            string    `json:"sender_id"`
	Content             string    `json:"content"`
	IV                  string    `json:"iv,omitempty"`
	SenderEncryptionKey string    `json:"sender_encryption_key,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Body is either a PlainBody or an EncryptedBody.
type Body interface {
	isBody()
}

type PlainBody struct {
	Text string
}

type EncryptedBody struct {
	Ciphertext string
	IV         string
	SenderKey  string
}

func (PlainBody) isBody()     {}
func (EncryptedBody) isBody() {}

func (m *Message) Body() Body {
	if m.SenderEncryptionKey == "" {
		return PlainBody{Text: m.Content}
	}
	return EncryptedBody{Ciphertext: m.Content, IV: m.IV, SenderKey: m.SenderEncryptionKey}
}

// DisplayMessage is a message prepared for one viewer.
type DisplayMessage struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	Own         bool      `json:"own"`
	Encrypted   bool      `json:"encrypted"`
	Unavailable bool      `json:"unavailable,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
