package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/chaterr"
	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/models"
	"github.com/crewtalk-io/crewtalk-api/internal/repository"
)

func newRosterService(t *testing.T, db *gorm.DB) RosterService {
	t.Helper()
	return NewRosterService(
		db,
		repository.NewUserRepository(db),
		repository.NewRoomRepository(db),
		repository.NewMembershipRepository(db),
		repository.NewManagerRepository(db),
		validator.New(validator.WithRequiredStructEnabled()),
		zerolog.Nop(),
	)
}

func createAdmin(t *testing.T, db *gorm.DB, name, surname string) models.User {
	t.Helper()
	admin := createUser(t, db, name, surname)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", admin.ID).Update("role", models.RoleAdmin).Error)
	admin.Role = models.RoleAdmin
	return admin
}

func countRooms(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Room{}).Count(&n).Error)
	return n
}

func TestRosterServiceProvisionDirectRoomsIsIdempotent(t *testing.T) {
	db := setupChatDB(t)
	svc := newRosterService(t, db)
	ctx := context.Background()

	adminA := createAdmin(t, db, "Mira", "Novak")
	createAdmin(t, db, "Jon", "Berg")
	employee := createUser(t, db, "Pia", "Larsen")

	require.NoError(t, svc.ProvisionDirectRooms(ctx, employee.ID))
	require.EqualValues(t, 2, countRooms(t, db), "one direct room per confirmed admin")

	require.NoError(t, svc.ProvisionDirectRooms(ctx, employee.ID))
	require.EqualValues(t, 2, countRooms(t, db), "reprovisioning reuses existing rooms")

	memberships := repository.NewMembershipRepository(db)
	shared, err := memberships.SharedDirectRoom(ctx, adminA.ID, employee.ID)
	require.NoError(t, err)
	require.NotEmpty(t, shared)
}

func TestRosterServiceProvisionSkipsSelfPairing(t *testing.T) {
	db := setupChatDB(t)
	svc := newRosterService(t, db)

	admin := createAdmin(t, db, "Mira", "Novak")

	require.NoError(t, svc.ProvisionDirectRooms(context.Background(), admin.ID))
	require.Zero(t, countRooms(t, db), "an admin is not paired with themselves")
}

func TestRosterServiceAssignManagerProvisionsRoom(t *testing.T) {
	db := setupChatDB(t)
	svc := newRosterService(t, db)
	ctx := context.Background()

	employee := createUser(t, db, "Pia", "Larsen")
	manager := createUser(t, db, "Mira", "Novak")

	status, err := svc.AssignManager(ctx, dto.ManagerAssignmentRequest{
		EmployeeID: employee.ID,
		ManagerID:  manager.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Manager added successfully", status)

	var assignment models.ManagerAssignment
	require.NoError(t, db.Where("employee_id = ? AND manager_id = ?", employee.ID, manager.ID).First(&assignment).Error)
	require.NotEmpty(t, assignment.RoomID)

	var memberCount int64
	require.NoError(t, db.Model(&models.Membership{}).Where("room_id = ?", assignment.RoomID).Count(&memberCount).Error)
	require.EqualValues(t, 2, memberCount)

	_, err = svc.AssignManager(ctx, dto.ManagerAssignmentRequest{
		EmployeeID: employee.ID,
		ManagerID:  manager.ID,
	})
	require.Error(t, err)
	appErr := chaterr.From(err)
	require.Equal(t, 422, appErr.Status)
	require.Equal(t, "the user already has this manager", appErr.Msg)
}

func TestRosterServiceAssignManagerReusesSharedRoom(t *testing.T) {
	db := setupChatDB(t)
	svc := newRosterService(t, db)
	ctx := context.Background()

	employee := createUser(t, db, "Pia", "Larsen")
	manager := createUser(t, db, "Mira", "Novak")
	existing := createRoom(t, db, "", employee.ID, manager.ID)

	_, err := svc.AssignManager(ctx, dto.ManagerAssignmentRequest{
		EmployeeID: employee.ID,
		ManagerID:  manager.ID,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, countRooms(t, db))

	var assignment models.ManagerAssignment
	require.NoError(t, db.Where("employee_id = ?", employee.ID).First(&assignment).Error)
	require.Equal(t, existing.ID, assignment.RoomID)
}

func TestRosterServiceAssignManagerRejectsSelf(t *testing.T) {
	db := setupChatDB(t)
	svc := newRosterService(t, db)

	user := createUser(t, db, "Mira", "Novak")

	_, err := svc.AssignManager(context.Background(), dto.ManagerAssignmentRequest{
		EmployeeID: user.ID,
		ManagerID:  user.ID,
	})
	require.Error(t, err)
	appErr := chaterr.From(err)
	require.Equal(t, 422, appErr.Status)
	require.Equal(t, "a user cannot manage themselves", appErr.Msg)
}

func TestRosterServiceUnassignManagerTearsDownOnlyTheirRoom(t *testing.T) {
	db := setupChatDB(t)
	svc := newRosterService(t, db)
	ctx := context.Background()

	employee := createUser(t, db, "Pia", "Larsen")
	manager := createUser(t, db, "Mira", "Novak")
	unrelated := createRoom(t, db, "Release crew", employee.ID, manager.ID)

	_, err := svc.AssignManager(ctx, dto.ManagerAssignmentRequest{
		EmployeeID: employee.ID,
		ManagerID:  manager.ID,
	})
	require.NoError(t, err)

	var assignment models.ManagerAssignment
	require.NoError(t, db.Where("employee_id = ?", employee.ID).First(&assignment).Error)

	status, err := svc.UnassignManager(ctx, dto.ManagerAssignmentRequest{
		EmployeeID: employee.ID,
		ManagerID:  manager.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "Manager removed successfully", status)

	var roomCount int64
	require.NoError(t, db.Unscoped().Model(&models.Room{}).Where("id = ?", assignment.RoomID).Count(&roomCount).Error)
	require.Zero(t, roomCount, "the provisioned room is gone")

	var unrelatedMembers int64
	require.NoError(t, db.Model(&models.Membership{}).Where("room_id = ?", unrelated.ID).Count(&unrelatedMembers).Error)
	require.EqualValues(t, 2, unrelatedMembers, "memberships outside the assignment's room survive")

	_, err = svc.UnassignManager(ctx, dto.ManagerAssignmentRequest{
		EmployeeID: employee.ID,
		ManagerID:  manager.ID,
	})
	require.Error(t, err)
	appErr := chaterr.From(err)
	require.Equal(t, 422, appErr.Status)
	require.Equal(t, "the user does not have this manager", appErr.Msg)
}
