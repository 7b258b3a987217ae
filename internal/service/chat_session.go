package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/crewtalk-io/crewtalk-api/internal/chaterr"
	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/middleware"
	"github.com/crewtalk-io/crewtalk-api/internal/observability"
)

const sessionPingInterval = 30 * time.Second

// ChatSessionService drives one websocket connection through the event
// protocol: joining the user's private channel, routing inbound envelopes to
// the domain services and delivering the error event back to the originating
// connection when a handler fails.
type ChatSessionService interface {
	ServeConnection(baseCtx context.Context, conn *websocket.Conn, identity middleware.Identity)
}

type chatSessionService struct {
	messages   MessageService
	groups     GroupService
	presence   PresenceService
	dispatcher *Dispatcher
	hub        *Hub
	locks      *RoomLocks
	log        zerolog.Logger
}

// NewChatSessionService constructs the session protocol driver.
func NewChatSessionService(
	messages MessageService,
	groups GroupService,
	presence PresenceService,
	dispatcher *Dispatcher,
	hub *Hub,
	locks *RoomLocks,
	logger zerolog.Logger,
) ChatSessionService {
	return &chatSessionService{
		messages:   messages,
		groups:     groups,
		presence:   presence,
		dispatcher: dispatcher,
		hub:        hub,
		locks:      locks,
		log:        logger.With().Str("component", "chat_session").Logger(),
	}
}

// ServeConnection blocks until the connection closes. The caller owns the
// websocket handshake; authentication has already happened by the time a
// connection reaches this point.
func (s *chatSessionService) ServeConnection(baseCtx context.Context, conn *websocket.Conn, identity middleware.Identity) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := NewClient(identity.ID)
	s.hub.Register(client)

	go s.writer(conn, client)
	s.reader(baseCtx, conn, client, identity)

	s.hub.Unregister(client)
	s.disconnect(client, identity)
}

func (s *chatSessionService) reader(ctx context.Context, conn *websocket.Conn, client *Client, identity middleware.Identity) {
	for {
		var envelope dto.EventEnvelope
		if err := conn.ReadJSON(&envelope); err != nil {
			s.log.Debug().Err(err).Str("user_id", identity.ID).Msg("chat read loop ended")
			return
		}

		if err := s.handle(ctx, client, identity, envelope); err != nil {
			chatErr := chaterr.From(err)
			observability.ChatEventErrors().WithLabelValues(envelope.Event, statusLabel(chatErr.Status)).Inc()
			s.log.Warn().
				Err(err).
				Str("user_id", identity.ID).
				Str("event", envelope.Event).
				Int("status", chatErr.Status).
				Msg("chat event failed")
			s.reply(client, dto.EventError, dto.ErrorPayload{Status: chatErr.Status, Msg: chatErr.Msg})
		}
	}
}

func (s *chatSessionService) writer(conn *websocket.Conn, client *Client) {
	defer func() {
		_ = conn.Close()
	}()

	for {
		select {
		case envelope := <-client.Outbox():
			if err := conn.WriteJSON(envelope); err != nil {
				s.log.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(sessionPingInterval):
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				s.log.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-client.Closed():
			return
		}
	}
}

func (s *chatSessionService) handle(ctx context.Context, client *Client, identity middleware.Identity, envelope dto.EventEnvelope) error {
	switch envelope.Event {
	case dto.EventJoinToChat:
		return s.handleJoin(ctx, client, identity)
	case dto.EventLeftFromChat:
		return s.handleLeft(ctx, client, identity)
	case dto.EventGetChatMessages:
		return s.handleGetChatMessages(ctx, client, envelope.Data)
	case dto.EventSendPrivateMessage:
		return s.handleSendPrivateMessage(ctx, identity, envelope.Data)
	case dto.EventDeleteChatHistory:
		return s.handleDeleteChatHistory(ctx, identity, envelope.Data)
	case dto.EventUserIsTyping:
		return s.handleTyping(ctx, envelope.Data, true)
	case dto.EventUserEndTyping:
		return s.handleTyping(ctx, envelope.Data, false)
	case dto.EventReadMessage:
		return s.handleReadMessage(ctx, identity, envelope.Data)
	case dto.EventGetNewMessages:
		return s.handleGetNewMessages(ctx, identity, envelope.Data)
	case dto.EventEditMessage:
		return s.handleEditMessage(ctx, identity, envelope.Data)
	case dto.EventCreateChatGroup:
		return s.handleCreateChatGroup(ctx, identity, envelope.Data)
	case dto.EventAddUserToChatGroup:
		return s.handleAddUserToChatGroup(ctx, identity, envelope.Data)
	case dto.EventRemoveUserFromChatGroup:
		return s.handleRemoveUserFromChatGroup(ctx, identity, envelope.Data)
	case dto.EventRemoveChatGroup:
		return s.handleRemoveChatGroup(ctx, identity, envelope.Data)
	case dto.EventEditChatGroupName:
		return s.handleEditChatGroupName(ctx, identity, envelope.Data)
	case dto.EventUploadChatGroupAvatar:
		return s.handleUploadChatGroupAvatar(ctx, identity, envelope.Data)
	case dto.EventLeaveFromChatGroup:
		return s.handleLeaveFromChatGroup(ctx, identity, envelope.Data)
	default:
		return chaterr.UnprocessableEntity("unknown event")
	}
}

// handleJoin flips presence on and announces the arrival to every other
// connection; the acting connection never hears its own announcement.
func (s *chatSessionService) handleJoin(ctx context.Context, client *Client, identity middleware.Identity) error {
	if err := s.presence.SetOnline(ctx, identity.ID); err != nil {
		return err
	}
	return s.dispatcher.BroadcastExcept(ctx, client, dto.EventJoinToChat, dto.PresenceBroadcast{UserID: identity.ID})
}

func (s *chatSessionService) handleLeft(ctx context.Context, client *Client, identity middleware.Identity) error {
	if err := s.presence.SetOffline(ctx, identity.ID); err != nil {
		return err
	}
	return s.dispatcher.BroadcastExcept(ctx, client, dto.EventLeftFromChat, dto.PresenceBroadcast{UserID: identity.ID})
}

// handleGetChatMessages replies to the requesting connection only.
func (s *chatSessionService) handleGetChatMessages(ctx context.Context, client *Client, data json.RawMessage) error {
	var req dto.GetChatMessagesRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	room, err := s.messages.RoomMessages(ctx, req)
	if err != nil {
		return err
	}
	s.reply(client, dto.EventGetChatMessages, room)
	return nil
}

func (s *chatSessionService) handleSendPrivateMessage(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.SendPrivateMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	result, err := s.messages.Send(ctx, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventSendPrivateMessage, dto.MessagesBroadcast{Result: result})
}

func (s *chatSessionService) handleDeleteChatHistory(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.DeleteChatHistoryRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	status, err := s.messages.ClearHistory(ctx, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventDeleteChatHistory, status)
}

// handleTyping routes the indicator to the selected user only. Both start and
// end travel under the userIsTyping event, distinguished by the flag.
func (s *chatSessionService) handleTyping(ctx context.Context, data json.RawMessage, isTyping bool) error {
	var req dto.TypingRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return s.dispatcher.DeliverToUser(ctx, req.SelectedUserID, dto.EventUserIsTyping, dto.TypingBroadcast{
		UserID:   req.UserID,
		IsTyping: isTyping,
	})
}

func (s *chatSessionService) handleReadMessage(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.ReadMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	status, err := s.messages.MarkRead(ctx, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventReadMessage, status)
}

func (s *chatSessionService) handleGetNewMessages(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.GetNewMessagesRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	result, err := s.messages.Unread(ctx, identity.ID, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventGetNewMessages, dto.MessagesBroadcast{Result: result})
}

func (s *chatSessionService) handleEditMessage(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.EditMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	result, err := s.messages.Edit(ctx, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventEditMessage, dto.MessagesBroadcast{Result: result})
}

// handleCreateChatGroup addresses the named members plus the creator directly;
// the room id does not exist until the transaction commits.
func (s *chatSessionService) handleCreateChatGroup(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.CreateChatGroupRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	result, err := s.groups.Create(ctx, identity.ID, identity.FullName(), req)
	if err != nil {
		return err
	}

	recipients := append([]string{identity.ID}, req.UserIDs...)
	return s.dispatcher.DeliverToUsers(ctx, recipients, dto.EventCreateChatGroup, result)
}

func (s *chatSessionService) handleAddUserToChatGroup(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.AddUserToChatGroupRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	result, err := s.groups.AddMembers(ctx, identity.ID, identity.FullName(), req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventAddUserToChatGroup, result)
}

// handleRemoveUserFromChatGroup fans out to the post-removal member set plus
// the actor; the removed user stops receiving room events immediately.
func (s *chatSessionService) handleRemoveUserFromChatGroup(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.RemoveUserFromChatGroupRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	result, err := s.groups.RemoveMember(ctx, identity.ID, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventRemoveUserFromChatGroup, result)
}

// handleRemoveChatGroup uses the member set captured before the delete; the
// fresh read would come back empty.
func (s *chatSessionService) handleRemoveChatGroup(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.RemoveChatGroupRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	result, recipients, err := s.groups.Remove(ctx, identity.ID, req)
	if err != nil {
		return err
	}
	return s.dispatcher.DeliverToUsers(ctx, append(recipients, identity.ID), dto.EventRemoveChatGroup, result)
}

func (s *chatSessionService) handleEditChatGroupName(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.EditChatGroupNameRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	result, err := s.groups.Rename(ctx, identity.ID, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventEditChatGroupName, result)
}

func (s *chatSessionService) handleUploadChatGroupAvatar(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.UploadChatGroupAvatarRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	result, err := s.groups.UploadAvatar(ctx, identity.ID, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventUploadChatGroupAvatar, result)
}

// handleLeaveFromChatGroup keeps the departing caller in the recipient set even
// though the membership row is already gone.
func (s *chatSessionService) handleLeaveFromChatGroup(ctx context.Context, identity middleware.Identity, data json.RawMessage) error {
	var req dto.LeaveFromChatGroupRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	s.locks.Lock(req.RoomID)
	defer s.locks.Unlock(req.RoomID)

	result, err := s.groups.Leave(ctx, req)
	if err != nil {
		return err
	}
	return s.dispatcher.Deliver(ctx, req.RoomID, identity.ID, dto.EventLeaveFromChatGroup, result)
}

// disconnect flips presence off when the user's last connection drops, so a
// second open tab keeps the user online.
func (s *chatSessionService) disconnect(client *Client, identity middleware.Identity) {
	if s.hub.ConnectionCount(identity.ID) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.presence.SetOffline(ctx, identity.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", identity.ID).Msg("failed to mark user offline on disconnect")
		return
	}
	if err := s.dispatcher.BroadcastExcept(ctx, client, dto.EventLeftFromChat, dto.PresenceBroadcast{UserID: identity.ID}); err != nil {
		s.log.Warn().Err(err).Str("user_id", identity.ID).Msg("failed to announce disconnect")
	}
}

func (s *chatSessionService) reply(client *Client, event string, payload interface{}) {
	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("failed to encode reply")
		return
	}
	if !client.Push(envelope) {
		s.log.Warn().Str("event", event).Str("user_id", client.UserID).Msg("dropping reply for slow client")
	}
}

func decode(data json.RawMessage, target interface{}) error {
	if len(data) == 0 {
		return chaterr.UnprocessableEntity("event payload is required")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return chaterr.UnprocessableEntity("malformed event payload")
	}
	return nil
}

func statusLabel(status int) string {
	switch status {
	case 401:
		return "401"
	case 404:
		return "404"
	case 422:
		return "422"
	default:
		return "500"
	}
}
