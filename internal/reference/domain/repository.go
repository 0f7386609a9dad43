package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindInvoice(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindPayment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
}
