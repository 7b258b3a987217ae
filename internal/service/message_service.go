package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/chaterr"
	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/models"
	"github.com/crewtalk-io/crewtalk-api/internal/repository"
)

// MessageService implements the message lifecycle inside a room: the ordered
// stream read, sending, editing, the unread protocol and history clearing.
type MessageService interface {
	RoomMessages(ctx context.Context, req dto.GetChatMessagesRequest) (dto.RoomResponse, error)
	Send(ctx context.Context, req dto.SendPrivateMessageRequest) ([]dto.MessageResponse, error)
	Edit(ctx context.Context, req dto.EditMessageRequest) ([]dto.MessageResponse, error)
	MarkRead(ctx context.Context, req dto.ReadMessageRequest) (dto.StatusBroadcast, error)
	Unread(ctx context.Context, userID string, req dto.GetNewMessagesRequest) ([]dto.MessageResponse, error)
	ClearHistory(ctx context.Context, req dto.DeleteChatHistoryRequest) (dto.StatusBroadcast, error)
	History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.MessageResponse, error)
}

type messageService struct {
	db        *gorm.DB
	rooms     repository.RoomRepository
	messages  repository.MessageRepository
	events    repository.RoomEventRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	tracer    trace.Tracer
	log       zerolog.Logger
}

// NewMessageService constructs the message service.
func NewMessageService(
	db *gorm.DB,
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	events repository.RoomEventRepository,
	validate *validator.Validate,
	logger zerolog.Logger,
) MessageService {
	return &messageService{
		db:        db,
		rooms:     rooms,
		messages:  messages,
		events:    events,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		tracer:    otel.Tracer("github.com/crewtalk-io/crewtalk-api/internal/service/message"),
		log:       logger.With().Str("component", "message_service").Logger(),
	}
}

// RoomMessages returns the room with its full message stream in chronological
// order. A non-empty filter that matches nothing is a business-rule failure,
// a missing room is not found.
func (s *messageService) RoomMessages(ctx context.Context, req dto.GetChatMessagesRequest) (dto.RoomResponse, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.RoomMessages")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.RoomResponse{}, chaterr.UnprocessableEntity(validationMessage(err))
	}

	room, err := s.rooms.GetWithMessages(ctx, req.RoomID, req.Filter)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.RoomResponse{}, chaterr.NotFound("room not found")
		}
		return dto.RoomResponse{}, chaterr.Internal(err)
	}

	if req.Filter != "" && len(room.Messages) == 0 {
		return dto.RoomResponse{}, chaterr.UnprocessableEntity("no messages match the filter")
	}

	return dto.NewRoomResponse(room), nil
}

// Send stores one message and returns the room's stream as committed, authors
// joined, so every recipient renders the same ordering.
func (s *messageService) Send(ctx context.Context, req dto.SendPrivateMessageRequest) ([]dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.Send")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return nil, chaterr.UnprocessableEntity(validationMessage(err))
	}

	text := strings.TrimSpace(s.sanitizer.Sanitize(req.Text))
	if text == "" {
		return nil, chaterr.UnprocessableEntity("message text must not be empty")
	}

	var all []models.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rooms := s.rooms.WithTx(tx)
		messages := s.messages.WithTx(tx)

		if _, err := rooms.Get(ctx, req.RoomID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterr.NotFound("room not found")
			}
			return err
		}

		message := models.Message{
			AuthorID: req.AuthorID,
			RoomID:   req.RoomID,
			Text:     text,
		}
		if err := messages.Create(ctx, &message); err != nil {
			return fmt.Errorf("store message: %w", err)
		}

		var err error
		all, err = messages.ListByRoom(ctx, req.RoomID)
		return err
	})
	if err != nil {
		return nil, chaterr.From(err)
	}

	s.log.Info().Str("room_id", req.RoomID).Str("author_id", req.AuthorID).Msg("message sent")
	return dto.NewMessageResponseSlice(all), nil
}

// Edit replaces a message body, marks it edited and returns the room's stream.
func (s *messageService) Edit(ctx context.Context, req dto.EditMessageRequest) ([]dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.Edit")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return nil, chaterr.UnprocessableEntity(validationMessage(err))
	}

	text := strings.TrimSpace(s.sanitizer.Sanitize(req.Text))
	if text == "" {
		return nil, chaterr.UnprocessableEntity("message text must not be empty")
	}

	var all []models.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		messages := s.messages.WithTx(tx)

		message, err := messages.Get(ctx, req.MessageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterr.NotFound("message not found")
			}
			return err
		}
		if message.RoomID != req.RoomID {
			return chaterr.UnprocessableEntity("message does not belong to this room")
		}

		message.Text = text
		message.IsEdit = true
		if err := messages.Update(ctx, &message); err != nil {
			return fmt.Errorf("update message: %w", err)
		}

		all, err = messages.ListByRoom(ctx, req.RoomID)
		return err
	})
	if err != nil {
		return nil, chaterr.From(err)
	}

	s.log.Info().Str("room_id", req.RoomID).Str("message_id", req.MessageID).Msg("message edited")
	return dto.NewMessageResponseSlice(all), nil
}

// MarkRead clears the unread flag for the referenced messages in one batch and
// returns the updated stream.
func (s *messageService) MarkRead(ctx context.Context, req dto.ReadMessageRequest) (dto.StatusBroadcast, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.MarkRead")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.StatusBroadcast{}, chaterr.UnprocessableEntity(validationMessage(err))
	}
	if len(req.NewMessages) == 0 {
		return dto.StatusBroadcast{}, chaterr.UnprocessableEntity("no messages to mark as read")
	}

	ids := make([]string, 0, len(req.NewMessages))
	for _, ref := range req.NewMessages {
		ids = append(ids, ref.ID)
	}

	var all []models.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		messages := s.messages.WithTx(tx)

		if err := messages.MarkRead(ctx, ids); err != nil {
			return fmt.Errorf("mark messages read: %w", err)
		}

		var err error
		all, err = messages.ListByRoom(ctx, req.RoomID)
		return err
	})
	if err != nil {
		return dto.StatusBroadcast{}, chaterr.From(err)
	}

	return dto.StatusBroadcast{
		Message:     "Message is updated successfully",
		AllMessages: dto.NewMessageResponseSlice(all),
	}, nil
}

// Unread returns messages written by other authors that the caller has not read
// yet, newest first.
func (s *messageService) Unread(ctx context.Context, userID string, req dto.GetNewMessagesRequest) ([]dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.Unread")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return nil, chaterr.UnprocessableEntity(validationMessage(err))
	}

	messages, err := s.messages.ListUnread(ctx, req.RoomID, userID)
	if err != nil {
		return nil, chaterr.Internal(err)
	}
	return dto.NewMessageResponseSlice(messages), nil
}

// ClearHistory hard-deletes every message of a room. Memberships and the room
// itself survive; an audit row records who cleared it.
func (s *messageService) ClearHistory(ctx context.Context, req dto.DeleteChatHistoryRequest) (dto.StatusBroadcast, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.ClearHistory")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.StatusBroadcast{}, chaterr.UnprocessableEntity(validationMessage(err))
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		rooms := s.rooms.WithTx(tx)
		messages := s.messages.WithTx(tx)
		events := s.events.WithTx(tx)

		if _, err := rooms.Get(ctx, req.RoomID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterr.NotFound("room not found")
			}
			return err
		}

		if err := messages.DeleteByRoom(ctx, req.RoomID); err != nil {
			return fmt.Errorf("delete room messages: %w", err)
		}

		return events.Append(ctx, &models.RoomEvent{
			RoomID: req.RoomID,
			Kind:   models.RoomEventHistoryCleared,
		})
	})
	if err != nil {
		return dto.StatusBroadcast{}, chaterr.From(err)
	}

	s.log.Info().Str("room_id", req.RoomID).Msg("chat history removed")
	return dto.StatusBroadcast{
		Message:     "Chat history was removed",
		AllMessages: []dto.MessageResponse{},
	}, nil
}

// History serves the REST pagination endpoint with a created-before cursor.
func (s *messageService) History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.History")
	defer span.End()

	if err := s.validator.Struct(query); err != nil {
		return nil, chaterr.UnprocessableEntity(validationMessage(err))
	}

	if _, err := s.rooms.Get(ctx, query.RoomID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chaterr.NotFound("room not found")
		}
		return nil, chaterr.Internal(err)
	}

	var before time.Time
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.messages.ListByRoomBefore(ctx, query.RoomID, before, query.Limit)
	if err != nil {
		return nil, chaterr.Internal(err)
	}
	return dto.NewMessageResponseSlice(messages), nil
}

// validationMessage flattens a validator error into a single client-facing line.
func validationMessage(err error) string {
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return "invalid request payload"
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Sprintf("field %s failed on the %s rule", fe.Field(), fe.Tag())
	}
	return "invalid request payload"
}
