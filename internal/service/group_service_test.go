package service

import (
	"context"
	"encoding/base64"
	"io"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/chaterr"
	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/models"
	"github.com/crewtalk-io/crewtalk-api/internal/repository"
)

type stubUploader struct {
	names []string
	url   string
}

func (u *stubUploader) Upload(_ context.Context, name string, reader io.Reader) (string, error) {
	if _, err := io.ReadAll(reader); err != nil {
		return "", err
	}
	u.names = append(u.names, name)
	return u.url, nil
}

// pngSample carries the PNG magic bytes, enough for content sniffing.
var pngSample = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func newGroupService(t *testing.T, db *gorm.DB, uploader AvatarUploader) GroupService {
	t.Helper()
	return NewGroupService(
		db,
		repository.NewUserRepository(db),
		repository.NewRoomRepository(db),
		repository.NewMembershipRepository(db),
		repository.NewMessageRepository(db),
		repository.NewRoomEventRepository(db),
		uploader,
		validator.New(validator.WithRequiredStructEnabled()),
		zerolog.Nop(),
	)
}

func memberIDsOf(t *testing.T, db *gorm.DB, roomID string) []string {
	t.Helper()
	var ids []string
	require.NoError(t, db.Model(&models.Membership{}).Where("room_id = ?", roomID).Pluck("user_id", &ids).Error)
	return ids
}

func TestGroupServiceCreateJoinsCreatorImplicitly(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)
	ctx := context.Background()

	creator := createUser(t, db, "Mira", "Novak")
	member := createUser(t, db, "Jon", "Berg")

	broadcast, err := svc.Create(ctx, creator.ID, creator.FullName(), dto.CreateChatGroupRequest{
		Name:    "Release crew",
		UserIDs: []string{member.ID},
	})
	require.NoError(t, err)
	require.Equal(t, "Group created successfully", broadcast.Message)
	require.NotNil(t, broadcast.NewGroup.Name)
	require.Equal(t, "Release crew", *broadcast.NewGroup.Name)

	require.ElementsMatch(t, []string{creator.ID, member.ID}, memberIDsOf(t, db, broadcast.NewGroup.ID))

	require.Len(t, broadcast.NewGroup.Messages, 1)
	require.Equal(t, "Mira Novak created this chat", broadcast.NewGroup.Messages[0].Text)
	require.True(t, broadcast.NewGroup.Messages[0].IsAction)

	var audit models.RoomEvent
	require.NoError(t, db.Where("room_id = ? AND kind = ?", broadcast.NewGroup.ID, models.RoomEventCreated).First(&audit).Error)
	require.Equal(t, creator.ID, audit.ActorID)
}

func TestGroupServiceCreateRejectsUnknownUser(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)

	creator := createUser(t, db, "Mira", "Novak")

	_, err := svc.Create(context.Background(), creator.ID, creator.FullName(), dto.CreateChatGroupRequest{
		Name:    "Ghost crew",
		UserIDs: []string{uuid.NewString()},
	})
	require.Error(t, err)
	require.Equal(t, 404, chaterr.From(err).Status)

	var roomCount int64
	require.NoError(t, db.Model(&models.Room{}).Count(&roomCount).Error)
	require.Zero(t, roomCount, "the transaction must roll the room back")
}

func TestGroupServiceAddMembersWritesActionPerUser(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)
	ctx := context.Background()

	creator := createUser(t, db, "Mira", "Novak")
	joined := createUser(t, db, "Jon", "Berg")
	group := createRoom(t, db, "Release crew", creator.ID)

	broadcast, err := svc.AddMembers(ctx, creator.ID, creator.FullName(), dto.AddUserToChatGroupRequest{
		NewUserIDs: []string{joined.ID},
		RoomID:     group.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Group member added successfully", broadcast.Message)

	messages := broadcast.NewMessages.Messages
	require.Len(t, messages, 1)
	require.Equal(t, "Mira Novak added Jon Berg to this chat", messages[0].Text)

	_, err = svc.AddMembers(ctx, creator.ID, creator.FullName(), dto.AddUserToChatGroupRequest{
		NewUserIDs: []string{joined.ID},
		RoomID:     group.ID,
	})
	require.Error(t, err, "adding the same member twice is rejected")
	appErr := chaterr.From(err)
	require.Equal(t, 422, appErr.Status)
	require.Equal(t, "user is already a member of this chat", appErr.Msg)
}

func TestGroupServiceMutationsRejectDirectRooms(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)
	ctx := context.Background()

	a := createUser(t, db, "Mira", "Novak")
	b := createUser(t, db, "Jon", "Berg")
	direct := createRoom(t, db, "", a.ID, b.ID)

	_, err := svc.AddMembers(ctx, a.ID, a.FullName(), dto.AddUserToChatGroupRequest{
		NewUserIDs: []string{b.ID},
		RoomID:     direct.ID,
	})
	require.Error(t, err)
	appErr := chaterr.From(err)
	require.Equal(t, 422, appErr.Status)
	require.Equal(t, "room is not a chat group", appErr.Msg)

	_, _, err = svc.Remove(ctx, a.ID, dto.RemoveChatGroupRequest{RoomID: direct.ID})
	require.Error(t, err)
	require.Equal(t, 422, chaterr.From(err).Status)
}

func TestGroupServiceRemoveMemberAttributedToActor(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)
	ctx := context.Background()

	actor := createUser(t, db, "Mira", "Novak")
	removed := createUser(t, db, "Jon", "Berg")
	group := createRoom(t, db, "Release crew", actor.ID, removed.ID)

	broadcast, err := svc.RemoveMember(ctx, actor.ID, dto.RemoveUserFromChatGroupRequest{
		UserID: removed.ID,
		RoomID: group.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Group member removed successfully", broadcast.Message)

	messages := broadcast.NewMessages.Messages
	require.Len(t, messages, 1)
	require.Equal(t, "Jon Berg removed from this chat", messages[0].Text)
	require.Equal(t, actor.ID, messages[0].AuthorID)

	require.ElementsMatch(t, []string{actor.ID}, memberIDsOf(t, db, group.ID))

	_, err = svc.RemoveMember(ctx, actor.ID, dto.RemoveUserFromChatGroupRequest{
		UserID: removed.ID,
		RoomID: group.ID,
	})
	require.Error(t, err, "removing a non-member fails")
	require.Equal(t, 404, chaterr.From(err).Status)
}

func TestGroupServiceRemovingLastMemberKeepsRoom(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)
	ctx := context.Background()

	actor := createUser(t, db, "Mira", "Novak")
	sole := createUser(t, db, "Jon", "Berg")
	group := createRoom(t, db, "Release crew", sole.ID)

	_, err := svc.RemoveMember(ctx, actor.ID, dto.RemoveUserFromChatGroupRequest{
		UserID: sole.ID,
		RoomID: group.ID,
	})
	require.NoError(t, err)
	require.Empty(t, memberIDsOf(t, db, group.ID))

	var reloaded models.Room
	require.NoError(t, db.First(&reloaded, "id = ?", group.ID).Error, "emptying a group never deletes the room")

	room, err := newMessageService(t, db).RoomMessages(ctx, dto.GetChatMessagesRequest{RoomID: group.ID})
	require.NoError(t, err, "an empty group stays queryable")
	require.Equal(t, group.ID, room.ID)
	require.Len(t, room.Messages, 1)
	require.Equal(t, "Jon Berg removed from this chat", room.Messages[0].Text)
}

func TestGroupServiceLeaveAttributedToDeparter(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)

	staying := createUser(t, db, "Mira", "Novak")
	departing := createUser(t, db, "Jon", "Berg")
	group := createRoom(t, db, "Release crew", staying.ID, departing.ID)

	broadcast, err := svc.Leave(context.Background(), dto.LeaveFromChatGroupRequest{
		UserID: departing.ID,
		RoomID: group.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Group member removed successfully", broadcast.Message)
	require.Equal(t, departing.ID, broadcast.UserID)

	messages := broadcast.NewMessages.Messages
	require.Len(t, messages, 1)
	require.Equal(t, "Jon Berg has left this chat", messages[0].Text)
	require.Equal(t, departing.ID, messages[0].AuthorID, "the departure notice is authored by the departing user")
}

func TestGroupServiceRenameWritesNoActionMessage(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)

	actor := createUser(t, db, "Mira", "Novak")
	group := createRoom(t, db, "Release crew", actor.ID)

	broadcast, err := svc.Rename(context.Background(), actor.ID, dto.EditChatGroupNameRequest{
		NewName: "Ship crew",
		RoomID:  group.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Chat group name edited successfully", broadcast.Message)
	require.Equal(t, "Ship crew", broadcast.NewName)

	var reloaded models.Room
	require.NoError(t, db.First(&reloaded, "id = ?", group.ID).Error)
	require.NotNil(t, reloaded.Name)
	require.Equal(t, "Ship crew", *reloaded.Name)

	var messageCount int64
	require.NoError(t, db.Model(&models.Message{}).Where("room_id = ?", group.ID).Count(&messageCount).Error)
	require.Zero(t, messageCount, "a rename leaves the message stream untouched")

	var audit models.RoomEvent
	require.NoError(t, db.Where("room_id = ? AND kind = ?", group.ID, models.RoomEventRenamed).First(&audit).Error)
}

func TestGroupServiceUploadAvatar(t *testing.T) {
	db := setupChatDB(t)
	uploader := &stubUploader{url: "https://cdn.example.com/group.png"}
	svc := newGroupService(t, db, uploader)
	ctx := context.Background()

	actor := createUser(t, db, "Mira", "Novak")
	group := createRoom(t, db, "Release crew", actor.ID)

	broadcast, err := svc.UploadAvatar(ctx, actor.ID, dto.UploadChatGroupAvatarRequest{
		GroupImg: base64.StdEncoding.EncodeToString(pngSample),
		RoomID:   group.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Chat group img edited successfully", broadcast.Message)
	require.Equal(t, uploader.url, broadcast.NewGroupImg)
	require.Len(t, uploader.names, 1)

	var reloaded models.Room
	require.NoError(t, db.First(&reloaded, "id = ?", group.ID).Error)
	require.NotNil(t, reloaded.GroupImg)
	require.Equal(t, uploader.url, *reloaded.GroupImg)

	_, err = svc.UploadAvatar(ctx, actor.ID, dto.UploadChatGroupAvatarRequest{
		GroupImg: base64.StdEncoding.EncodeToString([]byte("plain text, not an image")),
		RoomID:   group.ID,
	})
	require.Error(t, err)
	require.Equal(t, 422, chaterr.From(err).Status)
}

func TestGroupServiceUploadAvatarWithoutStorage(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)

	actor := createUser(t, db, "Mira", "Novak")
	group := createRoom(t, db, "Release crew", actor.ID)

	_, err := svc.UploadAvatar(context.Background(), actor.ID, dto.UploadChatGroupAvatarRequest{
		GroupImg: base64.StdEncoding.EncodeToString(pngSample),
		RoomID:   group.ID,
	})
	require.Error(t, err)
	appErr := chaterr.From(err)
	require.Equal(t, 422, appErr.Status)
	require.Equal(t, "avatar storage is not configured", appErr.Msg)
}

func TestGroupServiceRemoveReturnsPreDeleteRecipients(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)

	actor := createUser(t, db, "Mira", "Novak")
	member := createUser(t, db, "Jon", "Berg")
	group := createRoom(t, db, "Release crew", actor.ID, member.ID)
	require.NoError(t, db.Create(&models.Message{AuthorID: actor.ID, RoomID: group.ID, Text: "bye"}).Error)

	broadcast, recipients, err := svc.Remove(context.Background(), actor.ID, dto.RemoveChatGroupRequest{RoomID: group.ID})
	require.NoError(t, err)
	require.Equal(t, "Chat group removed successfully", broadcast.Message)
	require.ElementsMatch(t, []string{actor.ID, member.ID}, recipients,
		"the member set is captured before the delete so the terminal notice can still reach everyone")

	var roomCount int64
	require.NoError(t, db.Unscoped().Model(&models.Room{}).Where("id = ?", group.ID).Count(&roomCount).Error)
	require.Zero(t, roomCount)
	require.Empty(t, memberIDsOf(t, db, group.ID))

	var messageCount int64
	require.NoError(t, db.Unscoped().Model(&models.Message{}).Where("room_id = ?", group.ID).Count(&messageCount).Error)
	require.Zero(t, messageCount)
}

func TestGroupServiceAuditLogNewestFirst(t *testing.T) {
	db := setupChatDB(t)
	svc := newGroupService(t, db, nil)
	ctx := context.Background()

	actor := createUser(t, db, "Mira", "Novak")
	group := createRoom(t, db, "Release crew", actor.ID)

	_, err := svc.Rename(ctx, actor.ID, dto.EditChatGroupNameRequest{NewName: "First", RoomID: group.ID})
	require.NoError(t, err)
	_, err = svc.Rename(ctx, actor.ID, dto.EditChatGroupNameRequest{NewName: "Second", RoomID: group.ID})
	require.NoError(t, err)

	entries, err := svc.AuditLog(ctx, group.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Second", entries[0].Metadata["newName"])
	require.Equal(t, "First", entries[1].Metadata["newName"])
}
