package admission

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/quantdesk/order-gateway/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateSubmission persists a new submission record.
func (d *Database) CreateSubmission(ctx context.Context, submission *types.OrderSubmission) error {
	if err := d.db.WithContext(ctx).Create(submission).Error; err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// UpdateSubmission saves changes to a submission record.
func (d *Database) UpdateSubmission(ctx context.Context, submission *types.OrderSubmission) error {
	if err := d.db.WithContext(ctx).Save(submission).Error; err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	return nil
}

// GetSubmission retrieves a submission by order ID.
func (d *Database) GetSubmission(ctx context.Context, orderID string) (*types.OrderSubmission, error) {
	var submission types.OrderSubmission
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&submission).Error; err != nil {
		return nil, err
	}
	return &submission, nil
}

// GetSubmissionForUser retrieves a submission by order ID scoped to its
// owner, so one user cannot read another's orders.
func (d *Database) GetSubmissionForUser(ctx context.Context, orderID, userID string) (*types.OrderSubmission, error) {
	var submission types.OrderSubmission
	if err := d.db.WithContext(ctx).
		Where("order_id = ? AND user_id = ?", orderID, userID).
		First(&submission).Error; err != nil {
		return nil, err
	}
	return &submission, nil
}

// ListSubmissionsForUser returns a user's most recent submissions.
func (d *Database) ListSubmissionsForUser(ctx context.Context, userID string, limit int) ([]types.OrderSubmission, error) {
	var submissions []types.OrderSubmission
	if err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&submissions).Error; err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return submissions, nil
}
