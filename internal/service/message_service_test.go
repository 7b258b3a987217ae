package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/chaterr"
	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/models"
	"github.com/crewtalk-io/crewtalk-api/internal/repository"
)

func setupChatDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.Membership{},
		&models.Message{},
		&models.RoomEvent{},
		&models.ManagerAssignment{},
	))

	// The shared-cache DSN reuses one database per process; start each test clean.
	for _, table := range []string{"manager_assignments", "room_events", "messages", "memberships", "rooms", "users"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return db
}

func newMessageService(t *testing.T, db *gorm.DB) MessageService {
	t.Helper()
	return NewMessageService(
		db,
		repository.NewRoomRepository(db),
		repository.NewMessageRepository(db),
		repository.NewRoomEventRepository(db),
		validator.New(validator.WithRequiredStructEnabled()),
		zerolog.Nop(),
	)
}

func createUser(t *testing.T, db *gorm.DB, name, surname string) models.User {
	t.Helper()
	user := models.User{
		Name:    name,
		Surname: surname,
		Email:   uuid.NewString() + "@example.com",
		Status:  models.UserStatusConfirmed,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func createRoom(t *testing.T, db *gorm.DB, name string, memberIDs ...string) models.Room {
	t.Helper()
	room := models.Room{}
	if name != "" {
		room.Name = &name
	}
	require.NoError(t, db.Create(&room).Error)
	for _, id := range memberIDs {
		require.NoError(t, db.Create(&models.Membership{UserID: id, RoomID: room.ID}).Error)
	}
	return room
}

func TestMessageServiceSendReturnsWholeStream(t *testing.T) {
	db := setupChatDB(t)
	svc := newMessageService(t, db)
	ctx := context.Background()

	author := createUser(t, db, "Mira", "Novak")
	room := createRoom(t, db, "", author.ID)

	first, err := svc.Send(ctx, dto.SendPrivateMessageRequest{AuthorID: author.ID, RoomID: room.ID, Text: "hello"})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, "hello", first[0].Text)
	require.True(t, first[0].IsNew, "new messages start unread")

	second, err := svc.Send(ctx, dto.SendPrivateMessageRequest{AuthorID: author.ID, RoomID: room.ID, Text: "again"})
	require.NoError(t, err)
	require.Len(t, second, 2, "the reply carries the whole stream, not the delta")
	require.Equal(t, "hello", second[0].Text, "chronological order")
}

func TestMessageServiceSendRejectsMissingRoom(t *testing.T) {
	db := setupChatDB(t)
	svc := newMessageService(t, db)

	author := createUser(t, db, "Mira", "Novak")

	_, err := svc.Send(context.Background(), dto.SendPrivateMessageRequest{
		AuthorID: author.ID,
		RoomID:   uuid.NewString(),
		Text:     "into the void",
	})
	require.Error(t, err)
	require.Equal(t, 404, chaterr.From(err).Status)
}

func TestMessageServiceSendSanitizesMarkup(t *testing.T) {
	db := setupChatDB(t)
	svc := newMessageService(t, db)

	author := createUser(t, db, "Mira", "Novak")
	room := createRoom(t, db, "", author.ID)

	result, err := svc.Send(context.Background(), dto.SendPrivateMessageRequest{
		AuthorID: author.ID,
		RoomID:   room.ID,
		Text:     "<script>alert(1)</script>hi",
	})
	require.NoError(t, err)
	require.Equal(t, "hi", result[len(result)-1].Text)

	_, err = svc.Send(context.Background(), dto.SendPrivateMessageRequest{
		AuthorID: author.ID,
		RoomID:   room.ID,
		Text:     "<img src=x>",
	})
	require.Error(t, err, "a message that sanitizes to nothing is rejected")
	require.Equal(t, 422, chaterr.From(err).Status)
}

func TestMessageServiceEditMarksEdited(t *testing.T) {
	db := setupChatDB(t)
	svc := newMessageService(t, db)
	ctx := context.Background()

	author := createUser(t, db, "Mira", "Novak")
	room := createRoom(t, db, "", author.ID)
	message := models.Message{AuthorID: author.ID, RoomID: room.ID, Text: "typo", CreatedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, db.Create(&message).Error)
	later := models.Message{AuthorID: author.ID, RoomID: room.ID, Text: "newer"}
	require.NoError(t, db.Create(&later).Error)

	stream, err := svc.Edit(ctx, dto.EditMessageRequest{MessageID: message.ID, RoomID: room.ID, Text: "fixed"})
	require.NoError(t, err)
	require.Len(t, stream, 2)
	require.Equal(t, "fixed", stream[0].Text, "editing keeps the message at its original position")
	require.True(t, stream[0].IsEdit)
	require.Equal(t, "newer", stream[1].Text)

	otherRoom := createRoom(t, db, "", author.ID)
	_, err = svc.Edit(ctx, dto.EditMessageRequest{MessageID: message.ID, RoomID: otherRoom.ID, Text: "sneaky"})
	require.Error(t, err, "a message cannot be edited through another room")
	require.Equal(t, 422, chaterr.From(err).Status)
}

func TestMessageServiceMarkReadFlipsFlagInBatch(t *testing.T) {
	db := setupChatDB(t)
	svc := newMessageService(t, db)
	ctx := context.Background()

	author := createUser(t, db, "Mira", "Novak")
	reader := createUser(t, db, "Jon", "Berg")
	room := createRoom(t, db, "", author.ID, reader.ID)

	first := models.Message{AuthorID: author.ID, RoomID: room.ID, Text: "one", IsNew: true}
	second := models.Message{AuthorID: author.ID, RoomID: room.ID, Text: "two", IsNew: true}
	require.NoError(t, db.Create(&first).Error)
	require.NoError(t, db.Create(&second).Error)

	status, err := svc.MarkRead(ctx, dto.ReadMessageRequest{
		NewMessages: []dto.MessageRef{{ID: first.ID}, {ID: second.ID}},
		RoomID:      room.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Message is updated successfully", status.Message)
	for _, message := range status.AllMessages {
		require.False(t, message.IsNew)
	}

	unread, err := svc.Unread(ctx, reader.ID, dto.GetNewMessagesRequest{RoomID: room.ID})
	require.NoError(t, err)
	require.Empty(t, unread)
}

func TestMessageServiceUnreadExcludesOwnMessages(t *testing.T) {
	db := setupChatDB(t)
	svc := newMessageService(t, db)
	ctx := context.Background()

	author := createUser(t, db, "Mira", "Novak")
	reader := createUser(t, db, "Jon", "Berg")
	room := createRoom(t, db, "", author.ID, reader.ID)

	theirs := models.Message{AuthorID: author.ID, RoomID: room.ID, Text: "theirs", IsNew: true, CreatedAt: time.Now().Add(-time.Minute)}
	mine := models.Message{AuthorID: reader.ID, RoomID: room.ID, Text: "mine", IsNew: true}
	require.NoError(t, db.Create(&theirs).Error)
	require.NoError(t, db.Create(&mine).Error)

	unread, err := svc.Unread(ctx, reader.ID, dto.GetNewMessagesRequest{RoomID: room.ID})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, theirs.ID, unread[0].ID)
}

func TestMessageServiceClearHistoryRemovesEverything(t *testing.T) {
	db := setupChatDB(t)
	svc := newMessageService(t, db)
	ctx := context.Background()

	author := createUser(t, db, "Mira", "Novak")
	room := createRoom(t, db, "", author.ID)
	require.NoError(t, db.Create(&models.Message{AuthorID: author.ID, RoomID: room.ID, Text: "doomed"}).Error)

	status, err := svc.ClearHistory(ctx, dto.DeleteChatHistoryRequest{RoomID: room.ID})
	require.NoError(t, err)
	require.Equal(t, "Chat history was removed", status.Message)
	require.Empty(t, status.AllMessages)

	var messageCount int64
	require.NoError(t, db.Unscoped().Model(&models.Message{}).Where("room_id = ?", room.ID).Count(&messageCount).Error)
	require.Zero(t, messageCount)

	var memberCount int64
	require.NoError(t, db.Model(&models.Membership{}).Where("room_id = ?", room.ID).Count(&memberCount).Error)
	require.EqualValues(t, 1, memberCount, "clearing history keeps memberships")

	var audit models.RoomEvent
	require.NoError(t, db.Where("room_id = ? AND kind = ?", room.ID, models.RoomEventHistoryCleared).First(&audit).Error)
}

func TestMessageServiceRoomMessagesFilter(t *testing.T) {
	db := setupChatDB(t)
	svc := newMessageService(t, db)
	ctx := context.Background()

	author := createUser(t, db, "Mira", "Novak")
	room := createRoom(t, db, "", author.ID)
	require.NoError(t, db.Create(&models.Message{AuthorID: author.ID, RoomID: room.ID, Text: "Deploy finished"}).Error)

	response, err := svc.RoomMessages(ctx, dto.GetChatMessagesRequest{RoomID: room.ID, Filter: "deploy"})
	require.NoError(t, err)
	require.Len(t, response.Messages, 1)

	_, err = svc.RoomMessages(ctx, dto.GetChatMessagesRequest{RoomID: room.ID, Filter: "nothing matches"})
	require.Error(t, err)
	require.Equal(t, 422, chaterr.From(err).Status)

	_, err = svc.RoomMessages(ctx, dto.GetChatMessagesRequest{RoomID: uuid.NewString()})
	require.Error(t, err)
	require.Equal(t, 404, chaterr.From(err).Status)
}
