package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trustledger/internal/retainer/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, retainer *domain.Retainer) error {
	return db.WithContext(ctx).Create(retainer).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Retainer, error) {
	var retainer domain.Retainer
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Take(&retainer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &retainer, nil
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Retainer, error) {
	stmt := db.WithContext(ctx)
	// SQLite has no row locks; its single writer already serializes the transaction.
	if stmt.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var retainer domain.Retainer
	err := stmt.Where("id = ?", id).Take(&retainer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &retainer, nil
}

func (r *repo) UpdateVersioned(ctx context.Context, db *gorm.DB, retainer *domain.Retainer, expectedVersion int64) (bool, error) {
	result := db.WithContext(ctx).
		Model(&domain.Retainer{}).
		Where("id = ? AND org_id = ? AND version = ?", retainer.ID, retainer.OrgID, expectedVersion).
		Updates(map[string]any{
			"current_balance": retainer.CurrentBalance,
			"status":          retainer.Status,
			"deposits":        retainer.Deposits,
			"consumptions":    retainer.Consumptions,
			"refunded_amount": retainer.RefundedAmount,
			"refunded_at":     retainer.RefundedAt,
			"refund_reason":   retainer.RefundReason,
			"closed_at":       retainer.ClosedAt,
			"version":         expectedVersion + 1,
			"updated_at":      retainer.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	retainer.Version = expectedVersion + 1
	return true, nil
}

func (r *repo) ClaimOperationKey(ctx context.Context, db *gorm.DB, key *domain.OperationKey) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(key)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ClaimPayment(ctx context.Context, db *gorm.DB, claim *domain.PaymentClaim) (*domain.PaymentClaim, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(claim)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		return nil, nil
	}

	var existing domain.PaymentClaim
	err := db.WithContext(ctx).
		Where("org_id = ? AND payment_ref = ?", claim.OrgID, claim.PaymentRef).
		Take(&existing).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListRetainerFilter) ([]*domain.Retainer, error) {
	var retainers []*domain.Retainer
	stmt := db.WithContext(ctx).
		Model(&domain.Retainer{}).
		Where("org_id = ?", orgID)
	if filter.ClientID != nil {
		stmt = stmt.Where("client_id = ?", *filter.ClientID)
	}
	if filter.CaseID != nil {
		stmt = stmt.Where("case_id = ?", *filter.CaseID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}
	if filter.Limit > 0 {
		// one extra row tells the caller whether another page exists
		stmt = stmt.Limit(filter.Limit + 1)
	}
	err := stmt.
		Order("created_at desc, id desc").
		Find(&retainers).Error
	if err != nil {
		return nil, err
	}
	return retainers, nil
}
