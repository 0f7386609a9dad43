package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Invoice is the read-only projection of a billing invoice a retainer may cite.
type Invoice struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	Status    string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

// Payment is the read-only projection of a captured payment a deposit may cite.
type Payment struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	Status    string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

const (
	InvoiceStatusVoid    = "void"
	PaymentStatusFailed  = "failed"
	PaymentStatusPending = "pending"
)
