package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a retainer.
type Status string

const (
	StatusActive   Status = "active"
	StatusRefunded Status = "refunded"
	StatusClosed   Status = "closed"
)

// Terminal reports whether the retainer can no longer be mutated.
func (s Status) Terminal() bool {
	return s == StatusRefunded || s == StatusClosed
}

// RetainerType is informational and never affects ledger math.
type RetainerType string

const (
	RetainerTypeGeneral    RetainerType = "general"
	RetainerTypeEvergreen  RetainerType = "evergreen"
	RetainerTypeSecurity   RetainerType = "security"
	RetainerTypeAdvanceFee RetainerType = "advance_fee"
)

func (t RetainerType) IsValid() bool {
	switch t {
	case RetainerTypeGeneral, RetainerTypeEvergreen, RetainerTypeSecurity, RetainerTypeAdvanceFee:
		return true
	}
	return false
}

// Deposit is an append-only credit to the retainer. Deposits[0] is the initial deposit.
type Deposit struct {
	ID         snowflake.ID `json:"id"`
	Date       time.Time    `json:"date"`
	Amount     int64        `json:"amount"`
	PaymentRef string       `json:"payment_ref,omitempty"`
}

// Consumption is an append-only debit billed against the retainer.
type Consumption struct {
	ID          snowflake.ID `json:"id"`
	Date        time.Time    `json:"date"`
	Amount      int64        `json:"amount"`
	InvoiceRef  string       `json:"invoice_ref,omitempty"`
	Description string       `json:"description,omitempty"`
}

// Retainer is the ledger entity: one row holds the balance and its full history.
type Retainer struct {
	ID                 snowflake.ID                     `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID                     `gorm:"not null;index:ix_retainers_org_client,priority:1" json:"org_id"`
	ClientID           snowflake.ID                     `gorm:"not null;index:ix_retainers_org_client,priority:2" json:"client_id"`
	CaseID             *snowflake.ID                    `gorm:"index" json:"case_id,omitempty"`
	Type               RetainerType                     `gorm:"type:text;not null" json:"retainer_type"`
	Currency           string                           `gorm:"type:text;not null" json:"currency"`
	InitialAmount      int64                            `gorm:"not null" json:"initial_amount"`
	CurrentBalance     int64                            `gorm:"not null" json:"current_balance"`
	MinimumBalance     int64                            `gorm:"not null;default:0" json:"minimum_balance"`
	Status             Status                           `gorm:"type:text;not null;index" json:"status"`
	AutoReplenish      bool                             `gorm:"not null;default:false" json:"auto_replenish"`
	ReplenishThreshold *int64                           `json:"replenish_threshold,omitempty"`
	ReplenishAmount    *int64                           `json:"replenish_amount,omitempty"`
	Deposits           datatypes.JSONSlice[Deposit]     `gorm:"not null" json:"deposits"`
	Consumptions       datatypes.JSONSlice[Consumption] `gorm:"not null" json:"consumptions"`
	RefundedAmount     int64                            `gorm:"not null;default:0" json:"refunded_amount"`
	RefundedAt         *time.Time                       `json:"refunded_at,omitempty"`
	RefundReason       string                           `gorm:"type:text" json:"refund_reason,omitempty"`
	ClosedAt           *time.Time                       `json:"closed_at,omitempty"`
	Version            int64                            `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time                        `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                        `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Retainer) TableName() string { return "retainers" }

// Operation names a ledger mutation.
type Operation string

const (
	OperationConsume   Operation = "consume"
	OperationReplenish Operation = "replenish"
	OperationRefund    Operation = "refund"
	OperationClose     Operation = "close"
)

func (o Operation) IsValid() bool {
	switch o {
	case OperationConsume, OperationReplenish, OperationRefund, OperationClose:
		return true
	}
	return false
}

// OperationKey records a claimed idempotency reference for one retainer operation.
type OperationKey struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"not null;index"`
	RetainerID     snowflake.ID `gorm:"not null;uniqueIndex:ux_retainer_operation_keys,priority:1"`
	Operation      Operation    `gorm:"type:text;not null;uniqueIndex:ux_retainer_operation_keys,priority:2"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex:ux_retainer_operation_keys,priority:3"`
	CreatedAt      time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (OperationKey) TableName() string { return "retainer_operation_keys" }

// PaymentClaim binds a payment reference to the one deposit it funded.
// A payment is credited at most once per organization.
type PaymentClaim struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;uniqueIndex:ux_retainer_payment_claims,priority:1"`
	PaymentRef string       `gorm:"type:text;not null;uniqueIndex:ux_retainer_payment_claims,priority:2"`
	RetainerID snowflake.ID `gorm:"not null;index"`
	DepositID  snowflake.ID `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null"`
}

func (PaymentClaim) TableName() string { return "retainer_payment_claims" }
