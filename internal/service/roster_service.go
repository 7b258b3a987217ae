package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/chaterr"
	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/models"
	"github.com/crewtalk-io/crewtalk-api/internal/repository"
)

// RosterService provisions the nameless 1:1 rooms that exist outside the group
// lifecycle: every account gets a direct room with each confirmed admin, and
// every manager assignment owns a direct room between the pair.
type RosterService interface {
	ProvisionDirectRooms(ctx context.Context, userID string) error
	AssignManager(ctx context.Context, req dto.ManagerAssignmentRequest) (string, error)
	UnassignManager(ctx context.Context, req dto.ManagerAssignmentRequest) (string, error)
}

type rosterService struct {
	db          *gorm.DB
	users       repository.UserRepository
	rooms       repository.RoomRepository
	memberships repository.MembershipRepository
	managers    repository.ManagerRepository
	validator   *validator.Validate
	tracer      trace.Tracer
	log         zerolog.Logger
}

// NewRosterService constructs the roster provisioning service.
func NewRosterService(
	db *gorm.DB,
	users repository.UserRepository,
	rooms repository.RoomRepository,
	memberships repository.MembershipRepository,
	managers repository.ManagerRepository,
	validate *validator.Validate,
	logger zerolog.Logger,
) RosterService {
	return &rosterService{
		db:          db,
		users:       users,
		rooms:       rooms,
		memberships: memberships,
		managers:    managers,
		validator:   validate,
		tracer:      otel.Tracer("github.com/crewtalk-io/crewtalk-api/internal/service/roster"),
		log:         logger.With().Str("component", "roster_service").Logger(),
	}
}

// ProvisionDirectRooms pairs a user with every confirmed admin. Existing shared
// direct rooms are reused, so repeated provisioning is idempotent.
func (s *rosterService) ProvisionDirectRooms(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "RosterService.ProvisionDirectRooms")
	defer span.End()

	admins, err := s.users.ListConfirmedByRole(ctx, models.RoleAdmin)
	if err != nil {
		return chaterr.Internal(err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		rooms := s.rooms.WithTx(tx)
		memberships := s.memberships.WithTx(tx)

		for _, admin := range admins {
			if admin.ID == userID {
				continue
			}

			existing, err := memberships.SharedDirectRoom(ctx, admin.ID, userID)
			if err != nil {
				return err
			}
			if existing != "" {
				continue
			}

			if _, err := s.createDirectRoom(ctx, rooms, memberships, admin.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return chaterr.From(err)
	}

	s.log.Info().Str("user_id", userID).Int("admins", len(admins)).Msg("direct rooms provisioned")
	return nil
}

// AssignManager links an employee to a manager and provisions their direct
// room. A pair that already shares a direct room reuses it.
func (s *rosterService) AssignManager(ctx context.Context, req dto.ManagerAssignmentRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "RosterService.AssignManager")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return "", chaterr.UnprocessableEntity(validationMessage(err))
	}
	if req.EmployeeID == req.ManagerID {
		return "", chaterr.UnprocessableEntity("a user cannot manage themselves")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		rooms := s.rooms.WithTx(tx)
		memberships := s.memberships.WithTx(tx)
		managers := s.managers.WithTx(tx)

		for _, id := range []string{req.EmployeeID, req.ManagerID} {
			if _, err := users.Get(ctx, id); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return chaterr.NotFound("user not found")
				}
				return err
			}
		}

		if _, err := managers.Get(ctx, req.EmployeeID, req.ManagerID); err == nil {
			return chaterr.UnprocessableEntity("the user already has this manager")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		roomID, err := memberships.SharedDirectRoom(ctx, req.EmployeeID, req.ManagerID)
		if err != nil {
			return err
		}
		if roomID == "" {
			roomID, err = s.createDirectRoom(ctx, rooms, memberships, req.EmployeeID, req.ManagerID)
			if err != nil {
				return err
			}
		}

		return managers.Create(ctx, &models.ManagerAssignment{
			EmployeeID: req.EmployeeID,
			ManagerID:  req.ManagerID,
			RoomID:     roomID,
		})
	})
	if err != nil {
		return "", chaterr.From(err)
	}

	s.log.Info().Str("employee_id", req.EmployeeID).Str("manager_id", req.ManagerID).Msg("manager assigned")
	return "Manager added successfully", nil
}

// UnassignManager removes the link and tears down only the room the assignment
// provisioned. Other rooms of either user are never touched.
func (s *rosterService) UnassignManager(ctx context.Context, req dto.ManagerAssignmentRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "RosterService.UnassignManager")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		return "", chaterr.UnprocessableEntity(validationMessage(err))
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		rooms := s.rooms.WithTx(tx)
		memberships := s.memberships.WithTx(tx)
		managers := s.managers.WithTx(tx)

		assignment, err := managers.Get(ctx, req.EmployeeID, req.ManagerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterr.UnprocessableEntity("the user does not have this manager")
			}
			return err
		}

		if _, err := managers.Delete(ctx, req.EmployeeID, req.ManagerID); err != nil {
			return fmt.Errorf("delete manager assignment: %w", err)
		}

		if err := memberships.DeleteByRoom(ctx, assignment.RoomID); err != nil {
			return fmt.Errorf("delete direct room memberships: %w", err)
		}
		return rooms.HardDelete(ctx, assignment.RoomID)
	})
	if err != nil {
		return "", chaterr.From(err)
	}

	s.log.Info().Str("employee_id", req.EmployeeID).Str("manager_id", req.ManagerID).Msg("manager unassigned")
	return "Manager removed successfully", nil
}

func (s *rosterService) createDirectRoom(
	ctx context.Context,
	rooms repository.RoomRepository,
	memberships repository.MembershipRepository,
	userA, userB string,
) (string, error) {
	room := models.Room{}
	if err := rooms.Create(ctx, &room); err != nil {
		return "", fmt.Errorf("create direct room: %w", err)
	}
	for _, id := range []string{userA, userB} {
		if err := memberships.Create(ctx, &models.Membership{UserID: id, RoomID: room.ID}); err != nil {
			return "", fmt.Errorf("join user to direct room: %w", err)
		}
	}
	return room.ID, nil
}
