package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/chaterr"
	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/models"
	"github.com/crewtalk-io/crewtalk-api/internal/repository"
)

// AvatarUploader stores a group avatar and returns its public URL.
type AvatarUploader interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// GroupService manages the group lifecycle: creation, membership changes,
// renames, avatars and deletion. Every mutation runs in one transaction that
// also writes the system action message and the audit row, so the message
// stream and the membership table can never drift apart.
type GroupService interface {
	Create(ctx context.Context, actorID, actorName string, req dto.CreateChatGroupRequest) (dto.CreateChatGroupBroadcast, error)
	AddMembers(ctx context.Context, actorID, actorName string, req dto.AddUserToChatGroupRequest) (dto.GroupMutationBroadcast, error)
	RemoveMember(ctx context.Context, actorID string, req dto.RemoveUserFromChatGroupRequest) (dto.GroupMutationBroadcast, error)
	Leave(ctx context.Context, req dto.LeaveFromChatGroupRequest) (dto.LeaveFromChatGroupBroadcast, error)
	Rename(ctx context.Context, actorID string, req dto.EditChatGroupNameRequest) (dto.EditChatGroupNameBroadcast, error)
	UploadAvatar(ctx context.Context, actorID string, req dto.UploadChatGroupAvatarRequest) (dto.UploadChatGroupAvatarBroadcast, error)
	Remove(ctx context.Context, actorID string, req dto.RemoveChatGroupRequest) (dto.RemoveChatGroupBroadcast, []string, error)
	AuditLog(ctx context.Context, roomID string, limit int) ([]dto.RoomEventResponse, error)
}

type groupService struct {
	db          *gorm.DB
	users       repository.UserRepository
	rooms       repository.RoomRepository
	memberships repository.MembershipRepository
	messages    repository.MessageRepository
	events      repository.RoomEventRepository
	uploader    AvatarUploader
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	tracer      trace.Tracer
	log         zerolog.Logger
}

// NewGroupService constructs the group lifecycle service.
func NewGroupService(
	db *gorm.DB,
	users repository.UserRepository,
	rooms repository.RoomRepository,
	memberships repository.MembershipRepository,
	messages repository.MessageRepository,
	events repository.RoomEventRepository,
	uploader AvatarUploader,
	validate *validator.Validate,
	logger zerolog.Logger,
) GroupService {
	return &groupService{
		db:          db,
		users:       users,
		rooms:       rooms,
		memberships: memberships,
		messages:    messages,
		events:      events,
		uploader:    uploader,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		tracer:      otel.Tracer("github.com/crewtalk-io/crewtalk-api/internal/service/group"),
		log:         logger.With().Str("component", "group_service").Logger(),
	}
}

// Create builds a named group: the room row, the creator's and every named
// member's membership, the "<creator> created this chat" action message and the
// audit row, all in one transaction. Returns the group with its message stream.
func (s *groupService) Create(ctx context.Context, actorID, actorName string, req dto.CreateChatGroupRequest) (dto.CreateChatGroupBroadcast, error) {
	ctx, span := s.tracer.Start(ctx, "GroupService.Create")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.CreateChatGroupBroadcast{}, chaterr.UnprocessableEntity(validationMessage(err))
	}

	name := strings.TrimSpace(s.sanitizer.Sanitize(req.Name))
	if name == "" {
		return dto.CreateChatGroupBroadcast{}, chaterr.UnprocessableEntity("group name must not be empty")
	}

	var group models.Room
	err := s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		rooms := s.rooms.WithTx(tx)
		memberships := s.memberships.WithTx(tx)
		messages := s.messages.WithTx(tx)
		events := s.events.WithTx(tx)

		room := models.Room{Name: &name, CreatorID: &actorID}
		if err := rooms.Create(ctx, &room); err != nil {
			return fmt.Errorf("create group room: %w", err)
		}

		action := models.Message{
			AuthorID: actorID,
			RoomID:   room.ID,
			Text:     fmt.Sprintf("%s created this chat", actorName),
			IsAction: true,
		}
		if err := messages.Create(ctx, &action); err != nil {
			return fmt.Errorf("create group action message: %w", err)
		}

		memberIDs := append([]string{actorID}, req.UserIDs...)
		for _, userID := range dedupe(memberIDs) {
			if _, err := users.Get(ctx, userID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return chaterr.NotFound("user not found")
				}
				return err
			}
			if err := memberships.Create(ctx, &models.Membership{UserID: userID, RoomID: room.ID}); err != nil {
				return fmt.Errorf("join user to group: %w", err)
			}
		}

		if err := events.Append(ctx, &models.RoomEvent{
			RoomID:   room.ID,
			ActorID:  actorID,
			Kind:     models.RoomEventCreated,
			Metadata: datatypes.JSONMap{"name": name, "memberCount": len(dedupe(memberIDs))},
		}); err != nil {
			return fmt.Errorf("append room event: %w", err)
		}

		var err error
		group, err = rooms.GetWithMessages(ctx, room.ID, "")
		return err
	})
	if err != nil {
		return dto.CreateChatGroupBroadcast{}, chaterr.From(err)
	}

	s.log.Info().Str("room_id", group.ID).Str("creator_id", actorID).Msg("chat group created")
	return dto.CreateChatGroupBroadcast{
		Message:  "Group created successfully",
		NewGroup: dto.NewRoomResponse(group),
	}, nil
}

// AddMembers joins a batch of users to an existing group. Each addition writes
// its own "<actor> added <name surname> to this chat" action message.
func (s *groupService) AddMembers(ctx context.Context, actorID, actorName string, req dto.AddUserToChatGroupRequest) (dto.GroupMutationBroadcast, error) {
	ctx, span := s.tracer.Start(ctx, "GroupService.AddMembers")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.GroupMutationBroadcast{}, chaterr.UnprocessableEntity(validationMessage(err))
	}

	var group models.Room
	err := s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		rooms := s.rooms.WithTx(tx)
		memberships := s.memberships.WithTx(tx)
		messages := s.messages.WithTx(tx)
		events := s.events.WithTx(tx)

		room, err := s.groupRoom(ctx, rooms, req.RoomID)
		if err != nil {
			return err
		}

		for _, userID := range dedupe(req.NewUserIDs) {
			user, err := users.Get(ctx, userID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return chaterr.NotFound("user not found")
				}
				return err
			}

			member, err := memberships.Exists(ctx, userID, room.ID)
			if err != nil {
				return err
			}
			if member {
				return chaterr.UnprocessableEntity("user is already a member of this chat")
			}

			if err := memberships.Create(ctx, &models.Membership{UserID: userID, RoomID: room.ID}); err != nil {
				return fmt.Errorf("join user to group: %w", err)
			}

			action := models.Message{
				AuthorID: actorID,
				RoomID:   room.ID,
				Text:     fmt.Sprintf("%s added %s to this chat", actorName, user.FullName()),
				IsAction: true,
			}
			if err := messages.Create(ctx, &action); err != nil {
				return fmt.Errorf("create action message: %w", err)
			}

			if err := events.Append(ctx, &models.RoomEvent{
				RoomID:   room.ID,
				ActorID:  actorID,
				Kind:     models.RoomEventMemberAdded,
				Metadata: datatypes.JSONMap{"userId": userID},
			}); err != nil {
				return fmt.Errorf("append room event: %w", err)
			}
		}

		group, err = rooms.GetWithMessages(ctx, room.ID, "")
		return err
	})
	if err != nil {
		return dto.GroupMutationBroadcast{}, chaterr.From(err)
	}

	s.log.Info().Str("room_id", req.RoomID).Int("added", len(req.NewUserIDs)).Msg("group members added")
	return dto.GroupMutationBroadcast{
		Message:     "Group member added successfully",
		NewMessages: dto.NewRoomResponse(group),
	}, nil
}

// RemoveMember detaches one member and writes the "<name surname> removed from
// this chat" action message attributed to the acting user.
func (s *groupService) RemoveMember(ctx context.Context, actorID string, req dto.RemoveUserFromChatGroupRequest) (dto.GroupMutationBroadcast, error) {
	ctx, span := s.tracer.Start(ctx, "GroupService.RemoveMember")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.GroupMutationBroadcast{}, chaterr.UnprocessableEntity(validationMessage(err))
	}

	var group models.Room
	err := s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		rooms := s.rooms.WithTx(tx)
		memberships := s.memberships.WithTx(tx)
		messages := s.messages.WithTx(tx)
		events := s.events.WithTx(tx)

		room, err := s.groupRoom(ctx, rooms, req.RoomID)
		if err != nil {
			return err
		}

		removed, err := users.Get(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterr.NotFound("user not found")
			}
			return err
		}

		affected, err := memberships.Delete(ctx, req.UserID, room.ID)
		if err != nil {
			return fmt.Errorf("remove membership: %w", err)
		}
		if affected == 0 {
			return chaterr.NotFound("user is not a member of this chat")
		}

		action := models.Message{
			AuthorID: actorID,
			RoomID:   room.ID,
			Text:     fmt.Sprintf("%s removed from this chat", removed.FullName()),
			IsAction: true,
		}
		if err := messages.Create(ctx, &action); err != nil {
			return fmt.Errorf("create action message: %w", err)
		}

		if err := events.Append(ctx, &models.RoomEvent{
			RoomID:   room.ID,
			ActorID:  actorID,
			Kind:     models.RoomEventMemberRemoved,
			Metadata: datatypes.JSONMap{"userId": req.UserID},
		}); err != nil {
			return fmt.Errorf("append room event: %w", err)
		}

		group, err = rooms.GetWithMessages(ctx, room.ID, "")
		return err
	})
	if err != nil {
		return dto.GroupMutationBroadcast{}, chaterr.From(err)
	}

	s.log.Info().Str("room_id", req.RoomID).Str("user_id", req.UserID).Msg("group member removed")
	return dto.GroupMutationBroadcast{
		Message:     "Group member removed successfully",
		NewMessages: dto.NewRoomResponse(group),
	}, nil
}

// Leave is the self-service variant of removal: the action message reads
// "<name surname> has left this chat" and is attributed to the departing user.
// The departed user still receives the broadcast once.
func (s *groupService) Leave(ctx context.Context, req dto.LeaveFromChatGroupRequest) (dto.LeaveFromChatGroupBroadcast, error) {
	ctx, span := s.tracer.Start(ctx, "GroupService.Leave")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.LeaveFromChatGroupBroadcast{}, chaterr.UnprocessableEntity(validationMessage(err))
	}

	var group models.Room
	err := s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		rooms := s.rooms.WithTx(tx)
		memberships := s.memberships.WithTx(tx)
		messages := s.messages.WithTx(tx)
		events := s.events.WithTx(tx)

		room, err := s.groupRoom(ctx, rooms, req.RoomID)
		if err != nil {
			return err
		}

		departing, err := users.Get(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterr.NotFound("user not found")
			}
			return err
		}

		affected, err := memberships.Delete(ctx, req.UserID, room.ID)
		if err != nil {
			return fmt.Errorf("remove membership: %w", err)
		}
		if affected == 0 {
			return chaterr.NotFound("user is not a member of this chat")
		}

		action := models.Message{
			AuthorID: departing.ID,
			RoomID:   room.ID,
			Text:     fmt.Sprintf("%s has left this chat", departing.FullName()),
			IsAction: true,
		}
		if err := messages.Create(ctx, &action); err != nil {
			return fmt.Errorf("create action message: %w", err)
		}

		if err := events.Append(ctx, &models.RoomEvent{
			RoomID:  room.ID,
			ActorID: departing.ID,
			Kind:    models.RoomEventMemberLeft,
		}); err != nil {
			return fmt.Errorf("append room event: %w", err)
		}

		group, err = rooms.GetWithMessages(ctx, room.ID, "")
		return err
	})
	if err != nil {
		return dto.LeaveFromChatGroupBroadcast{}, chaterr.From(err)
	}

	s.log.Info().Str("room_id", req.RoomID).Str("user_id", req.UserID).Msg("group member left")
	return dto.LeaveFromChatGroupBroadcast{
		Message:     "Group member removed successfully",
		RoomID:      req.RoomID,
		UserID:      req.UserID,
		NewMessages: dto.NewRoomResponse(group),
	}, nil
}

// Rename changes the group name. No action message accompanies the rename;
// only the audit row records it.
func (s *groupService) Rename(ctx context.Context, actorID string, req dto.EditChatGroupNameRequest) (dto.EditChatGroupNameBroadcast, error) {
	ctx, span := s.tracer.Start(ctx, "GroupService.Rename")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.EditChatGroupNameBroadcast{}, chaterr.UnprocessableEntity(validationMessage(err))
	}

	name := strings.TrimSpace(s.sanitizer.Sanitize(req.NewName))
	if name == "" {
		return dto.EditChatGroupNameBroadcast{}, chaterr.UnprocessableEntity("group name must not be empty")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		rooms := s.rooms.WithTx(tx)
		events := s.events.WithTx(tx)

		room, err := s.groupRoom(ctx, rooms, req.RoomID)
		if err != nil {
			return err
		}

		if err := rooms.UpdateName(ctx, room.ID, name); err != nil {
			return fmt.Errorf("rename group: %w", err)
		}

		return events.Append(ctx, &models.RoomEvent{
			RoomID:   room.ID,
			ActorID:  actorID,
			Kind:     models.RoomEventRenamed,
			Metadata: datatypes.JSONMap{"newName": name},
		})
	})
	if err != nil {
		return dto.EditChatGroupNameBroadcast{}, chaterr.From(err)
	}

	s.log.Info().Str("room_id", req.RoomID).Str("new_name", name).Msg("chat group renamed")
	return dto.EditChatGroupNameBroadcast{
		Message: "Chat group name edited successfully",
		NewName: name,
		RoomID:  req.RoomID,
	}, nil
}

// UploadAvatar decodes the base64 image, verifies it really is an image by
// content sniffing, stores it and persists the returned URL.
func (s *groupService) UploadAvatar(ctx context.Context, actorID string, req dto.UploadChatGroupAvatarRequest) (dto.UploadChatGroupAvatarBroadcast, error) {
	ctx, span := s.tracer.Start(ctx, "GroupService.UploadAvatar")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.UploadChatGroupAvatarBroadcast{}, chaterr.UnprocessableEntity(validationMessage(err))
	}
	if s.uploader == nil {
		return dto.UploadChatGroupAvatarBroadcast{}, chaterr.UnprocessableEntity("avatar storage is not configured")
	}

	data, err := base64.StdEncoding.DecodeString(req.GroupImg)
	if err != nil {
		return dto.UploadChatGroupAvatarBroadcast{}, chaterr.UnprocessableEntity("group image must be valid base64")
	}

	kind := mimetype.Detect(data)
	if !strings.HasPrefix(kind.String(), "image/") {
		return dto.UploadChatGroupAvatarBroadcast{}, chaterr.UnprocessableEntity("group image must be an image file")
	}

	var url string
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		rooms := s.rooms.WithTx(tx)
		events := s.events.WithTx(tx)

		room, err := s.groupRoom(ctx, rooms, req.RoomID)
		if err != nil {
			return err
		}

		url, err = s.uploader.Upload(ctx, fmt.Sprintf("group-%s%s", room.ID, kind.Extension()), bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("upload group avatar: %w", err)
		}

		if err := rooms.UpdateGroupImg(ctx, room.ID, url); err != nil {
			return fmt.Errorf("persist group avatar: %w", err)
		}

		return events.Append(ctx, &models.RoomEvent{
			RoomID:   room.ID,
			ActorID:  actorID,
			Kind:     models.RoomEventAvatarChanged,
			Metadata: datatypes.JSONMap{"contentType": kind.String()},
		})
	})
	if txErr != nil {
		return dto.UploadChatGroupAvatarBroadcast{}, chaterr.From(txErr)
	}

	s.log.Info().Str("room_id", req.RoomID).Msg("chat group avatar updated")
	return dto.UploadChatGroupAvatarBroadcast{
		Message:     "Chat group img edited successfully",
		NewGroupImg: url,
		RoomID:      req.RoomID,
	}, nil
}

// Remove hard-deletes a group with its memberships and messages. The member set
// is captured before the delete so the terminal notice can still reach everyone.
func (s *groupService) Remove(ctx context.Context, actorID string, req dto.RemoveChatGroupRequest) (dto.RemoveChatGroupBroadcast, []string, error) {
	ctx, span := s.tracer.Start(ctx, "GroupService.Remove")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return dto.RemoveChatGroupBroadcast{}, nil, chaterr.UnprocessableEntity(validationMessage(err))
	}

	var recipients []string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rooms := s.rooms.WithTx(tx)
		memberships := s.memberships.WithTx(tx)
		messages := s.messages.WithTx(tx)
		events := s.events.WithTx(tx)

		room, err := s.groupRoom(ctx, rooms, req.RoomID)
		if err != nil {
			return err
		}

		recipients, err = memberships.MemberIDs(ctx, room.ID)
		if err != nil {
			return fmt.Errorf("capture member set: %w", err)
		}

		if err := memberships.DeleteByRoom(ctx, room.ID); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if err := messages.DeleteByRoom(ctx, room.ID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := rooms.HardDelete(ctx, room.ID); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}

		return events.Append(ctx, &models.RoomEvent{
			RoomID:  room.ID,
			ActorID: actorID,
			Kind:    models.RoomEventRemoved,
		})
	})
	if err != nil {
		return dto.RemoveChatGroupBroadcast{}, nil, chaterr.From(err)
	}

	s.log.Info().Str("room_id", req.RoomID).Int("members", len(recipients)).Msg("chat group removed")
	return dto.RemoveChatGroupBroadcast{Message: "Chat group removed successfully"}, recipients, nil
}

// AuditLog returns the recorded lifecycle entries of a room, newest first.
func (s *groupService) AuditLog(ctx context.Context, roomID string, limit int) ([]dto.RoomEventResponse, error) {
	ctx, span := s.tracer.Start(ctx, "GroupService.AuditLog")
	defer span.End()

	entries, err := s.events.ListByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, chaterr.Internal(err)
	}

	out := make([]dto.RoomEventResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dto.RoomEventResponse{
			ID:        entry.ID,
			RoomID:    entry.RoomID,
			ActorID:   entry.ActorID,
			Kind:      entry.Kind,
			Metadata:  entry.Metadata,
			CreatedAt: entry.CreatedAt,
		})
	}
	return out, nil
}

// groupRoom loads a room and rejects 1:1 pairs, which have no lifecycle.
func (s *groupService) groupRoom(ctx context.Context, rooms repository.RoomRepository, roomID string) (models.Room, error) {
	room, err := rooms.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Room{}, chaterr.NotFound("room not found")
		}
		return models.Room{}, err
	}
	if !room.IsGroup() {
		return models.Room{}, chaterr.UnprocessableEntity("room is not a chat group")
	}
	return room, nil
}
