package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/crewtalk-io/crewtalk-api/internal/models"
)

// ManagerRepository persists employee-manager assignments.
type ManagerRepository interface {
	Create(ctx context.Context, assignment *models.ManagerAssignment) error
	Get(ctx context.Context, employeeID, managerID string) (models.ManagerAssignment, error)
	Delete(ctx context.Context, employeeID, managerID string) (int64, error)
	WithTx(tx *gorm.DB) ManagerRepository
}

type managerRepository struct {
	db *gorm.DB
}

// NewManagerRepository constructs a manager assignment repository backed by GORM.
func NewManagerRepository(db *gorm.DB) ManagerRepository {
	return &managerRepository{db: db}
}

func (r *managerRepository) WithTx(tx *gorm.DB) ManagerRepository {
	return &managerRepository{db: tx}
}

func (r *managerRepository) Create(ctx context.Context, assignment *models.ManagerAssignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *managerRepository) Get(ctx context.Context, employeeID, managerID string) (models.ManagerAssignment, error) {
	var assignment models.ManagerAssignment
	err := r.db.WithContext(ctx).
		First(&assignment, "employee_id = ? AND manager_id = ?", employeeID, managerID).Error
	if err != nil {
		return models.ManagerAssignment{}, err
	}
	return assignment, nil
}

func (r *managerRepository) Delete(ctx context.Context, employeeID, managerID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("employee_id = ? AND manager_id = ?", employeeID, managerID).
		Delete(&models.ManagerAssignment{})
	return result.RowsAffected, result.Error
}
