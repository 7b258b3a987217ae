package dto

import "time"

// CreateChatGroupRequest creates a named group; the creator is joined implicitly.
type CreateChatGroupRequest struct {
	Name    string   `json:"name" validate:"required,min=1,max=255"`
	UserIDs []string `json:"userIds" validate:"required,min=1,dive,uuid4"`
}

// AddUserToChatGroupRequest adds a batch of users to an existing group.
type AddUserToChatGroupRequest struct {
	NewUserIDs []string `json:"newUserIds" validate:"required,min=1,dive,uuid4"`
	RoomID     string   `json:"roomId" validate:"required,uuid4"`
}

// RemoveUserFromChatGroupRequest removes one member from a group.
type RemoveUserFromChatGroupRequest struct {
	UserID string `json:"userId" validate:"required,uuid4"`
	RoomID string `json:"roomId" validate:"required,uuid4"`
}

// RemoveChatGroupRequest hard-deletes a group and its memberships.
type RemoveChatGroupRequest struct {
	RoomID string `json:"roomId" validate:"required,uuid4"`
}

// EditChatGroupNameRequest renames a group.
type EditChatGroupNameRequest struct {
	NewName string `json:"newName" validate:"required,min=1,max=255"`
	RoomID  string `json:"roomId" validate:"required,uuid4"`
}

// UploadChatGroupAvatarRequest replaces the group avatar; the image travels as base64.
type UploadChatGroupAvatarRequest struct {
	GroupImg string `json:"groupImg" validate:"required,base64"`
	RoomID   string `json:"roomId" validate:"required,uuid4"`
}

// LeaveFromChatGroupRequest removes the departing user from a group.
type LeaveFromChatGroupRequest struct {
	UserID string `json:"userId" validate:"required,uuid4"`
	RoomID string `json:"roomId" validate:"required,uuid4"`
}

// CreateChatGroupBroadcast is delivered to every named member plus the caller.
type CreateChatGroupBroadcast struct {
	Message  string       `json:"message"`
	NewGroup RoomResponse `json:"newGroup"`
}

// GroupMutationBroadcast carries the re-read room after an add/remove mutation.
type GroupMutationBroadcast struct {
	Message     string       `json:"message"`
	NewMessages RoomResponse `json:"newMessages"`
}

// RemoveChatGroupBroadcast is the terminal notice for a deleted group.
type RemoveChatGroupBroadcast struct {
	Message string `json:"message"`
}

// EditChatGroupNameBroadcast announces a rename. No action message accompanies
// it; only the audit row records the change.
type EditChatGroupNameBroadcast struct {
	Message string `json:"message"`
	NewName string `json:"newName"`
	RoomID  string `json:"roomId"`
}

// UploadChatGroupAvatarBroadcast announces a new group avatar URL.
type UploadChatGroupAvatarBroadcast struct {
	Message     string `json:"message"`
	NewGroupImg string `json:"newGroupImg"`
	RoomID      string `json:"roomId"`
}

// RoomEventResponse is one audit entry of a room's lifecycle.
type RoomEventResponse struct {
	ID        uint                   `json:"id"`
	RoomID    string                 `json:"roomId"`
	ActorID   string                 `json:"actorId,omitempty"`
	Kind      string                 `json:"kind"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// LeaveFromChatGroupBroadcast announces a departure together with the re-read room.
type LeaveFromChatGroupBroadcast struct {
	Message     string       `json:"message"`
	RoomID      string       `json:"roomId"`
	UserID      string       `json:"userId"`
	NewMessages RoomResponse `json:"newMessages"`
}
