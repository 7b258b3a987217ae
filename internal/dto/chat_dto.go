package dto

import (
	"encoding/json"
	"time"

	"github.com/crewtalk-io/crewtalk-api/internal/models"
)

// Event names understood by the chat session protocol. The vocabulary is part of
// the wire contract and matches docs/api/chat-events.json.
const (
	EventJoinToChat              = "joinToChat"
	EventLeftFromChat            = "leftFromChat"
	EventError                   = "error"
	EventGetChatMessages         = "getChatMessages"
	EventSendPrivateMessage      = "sendPrivateMessage"
	EventDeleteChatHistory       = "deleteChatHistory"
	EventUserIsTyping            = "userIsTyping"
	EventUserEndTyping           = "userEndTyping"
	EventReadMessage             = "readMessage"
	EventGetNewMessages          = "getNewMessages"
	EventEditMessage             = "editMessage"
	EventCreateChatGroup         = "createChatGroup"
	EventAddUserToChatGroup      = "addUserToChatGroup"
	EventRemoveUserFromChatGroup = "removeUserFromChatGroup"
	EventRemoveChatGroup         = "removeChatGroup"
	EventEditChatGroupName       = "editChatGroupName"
	EventUploadChatGroupAvatar   = "uploadChatGroupAvatar"
	EventLeaveFromChatGroup      = "leaveFromChatGroup"
)

// EventEnvelope frames every payload exchanged over the websocket, both directions.
type EventEnvelope struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope wraps an outbound payload under the given event name.
func NewEnvelope(event string, payload interface{}) (EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{Event: event, Data: data}, nil
}

// GetChatMessagesRequest asks for a room's ordered message stream, optionally filtered.
type GetChatMessagesRequest struct {
	RoomID string `json:"roomId" validate:"required,uuid4"`
	Filter string `json:"filter" validate:"omitempty,max=255"`
}

// SendPrivateMessageRequest posts one message into a room.
type SendPrivateMessageRequest struct {
	AuthorID string `json:"authorId" validate:"required,uuid4"`
	RoomID   string `json:"roomId" validate:"required,uuid4"`
	Text     string `json:"text" validate:"required,min=1,max=4000"`
}

// DeleteChatHistoryRequest clears every message of a room.
type DeleteChatHistoryRequest struct {
	RoomID string `json:"roomId" validate:"required,uuid4"`
}

// TypingRequest routes a typing indicator to one user.
type TypingRequest struct {
	UserID         string `json:"userId" validate:"required,uuid4"`
	SelectedUserID string `json:"selectedUserId" validate:"required,uuid4"`
}

// MessageRef identifies one message inside a readMessage batch.
type MessageRef struct {
	ID string `json:"id" validate:"required,uuid4"`
}

// ReadMessageRequest flips the unread flag for a batch of messages.
type ReadMessageRequest struct {
	NewMessages []MessageRef `json:"newMessages" validate:"required,dive"`
	RoomID      string       `json:"roomId" validate:"required,uuid4"`
}

// GetNewMessagesRequest asks for the caller's unread messages in a room.
type GetNewMessagesRequest struct {
	RoomID string `json:"roomId" validate:"required,uuid4"`
}

// EditMessageRequest replaces a message body and marks it edited.
type EditMessageRequest struct {
	MessageID string `json:"messageId" validate:"required,uuid4"`
	RoomID    string `json:"roomId" validate:"required,uuid4"`
	Text      string `json:"text" validate:"required,min=1,max=4000"`
}

// UserSummary carries the author display fields joined onto messages.
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	AvatarImg string `json:"avatarImg,omitempty"`
	Color     string `json:"color,omitempty"`
}

// MessageResponse is the serialized representation of one message.
type MessageResponse struct {
	ID        string       `json:"id"`
	AuthorID  string       `json:"authorId"`
	RoomID    string       `json:"roomId"`
	Text      string       `json:"text"`
	IsNew     bool         `json:"isNew"`
	IsEdit    bool         `json:"isEdit"`
	IsAction  bool         `json:"isAction"`
	CreatedAt time.Time    `json:"createdAt"`
	Author    *UserSummary `json:"sentAuthorMessage,omitempty"`
}

// RoomResponse is a room together with its ordered message stream.
type RoomResponse struct {
	ID        string            `json:"id"`
	Name      *string           `json:"name"`
	GroupImg  *string           `json:"groupImg"`
	CreatorID *string           `json:"creatorId"`
	CreatedAt time.Time         `json:"createdAt"`
	Messages  []MessageResponse `json:"roomMessages"`
}

// PresenceBroadcast announces a user coming online or going offline.
type PresenceBroadcast struct {
	UserID string `json:"userId"`
}

// TypingBroadcast is delivered to the selected user only.
type TypingBroadcast struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessagesBroadcast wraps a full room message stream the way the send/edit/unread
// events deliver it.
type MessagesBroadcast struct {
	Result []MessageResponse `json:"result"`
}

// StatusBroadcast pairs a human-readable status with the post-mutation message stream.
type StatusBroadcast struct {
	Message     string            `json:"message"`
	AllMessages []MessageResponse `json:"allMessages"`
}

// ErrorPayload is the only event shape delivered on handler failure, and only to
// the originating connection.
type ErrorPayload struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// NewUserSummary converts a user model into the joined author shape.
func NewUserSummary(user models.User) UserSummary {
	return UserSummary{
		ID:        user.ID,
		Name:      user.Name,
		Surname:   user.Surname,
		AvatarImg: user.AvatarImg,
		Color:     user.Color,
	}
}

// NewMessageResponse converts a message model into a DTO.
func NewMessageResponse(message models.Message) MessageResponse {
	response := MessageResponse{
		ID:        message.ID,
		AuthorID:  message.AuthorID,
		RoomID:    message.RoomID,
		Text:      message.Text,
		IsNew:     message.IsNew,
		IsEdit:    message.IsEdit,
		IsAction:  message.IsAction,
		CreatedAt: message.CreatedAt,
	}
	if message.Author != nil {
		author := NewUserSummary(*message.Author)
		response.Author = &author
	}
	return response
}

// NewMessageResponseSlice converts a slice of message models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// NewRoomResponse converts a room model (with preloaded messages) into a DTO.
func NewRoomResponse(room models.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		GroupImg:  room.GroupImg,
		CreatorID: room.CreatorID,
		CreatedAt: room.CreatedAt,
		Messages:  NewMessageResponseSlice(room.Messages),
	}
}
