package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/trustledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateRetainerRequest struct {
	OrgID              snowflake.ID
	ClientID           snowflake.ID
	CaseID             *snowflake.ID
	Type               RetainerType
	Currency           string
	InitialAmount      decimal.Decimal
	MinimumBalance     decimal.Decimal
	AutoReplenish      bool
	ReplenishThreshold *decimal.Decimal
	ReplenishAmount    *decimal.Decimal
	PaymentRef         string
}

type ListRetainerRequest struct {
	OrgID     snowflake.ID
	PageToken string
	PageSize  int32
	ClientID  *snowflake.ID
	CaseID    *snowflake.ID
	Status    Status
}

type ListRetainerFilter struct {
	ClientID *snowflake.ID
	CaseID   *snowflake.ID
	Status   Status
	Cursor   *ListCursor
	Limit    int
}

type ListCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListRetainerResponse struct {
	pagination.PageInfo
	Retainers []Retainer `json:"retainers"`
}

// OperationParams is the operation-specific payload of an Execute call.
type OperationParams struct {
	Amount         decimal.Decimal
	InvoiceRef     string
	PaymentRef     string
	Description    string
	Reason         string
	IdempotencyKey string
}

type ExecuteRequest struct {
	RetainerID snowflake.ID
	OrgID      snowflake.ID
	Operation  Operation
	Params     OperationParams
}

// OperationResult is the committed snapshot plus what the operation produced.
type OperationResult struct {
	Retainer       Retainer         `json:"retainer"`
	Operation      Operation        `json:"operation"`
	Amount         int64            `json:"amount"`
	RefundedAmount int64            `json:"refunded_amount,omitempty"`
	Replenishment  *TriggerDecision `json:"replenishment,omitempty"`
	Replayed       bool             `json:"replayed"`
}

type Service interface {
	Create(ctx context.Context, req CreateRetainerRequest) (Retainer, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (Retainer, error)
	List(ctx context.Context, req ListRetainerRequest) (ListRetainerResponse, error)
	History(ctx context.Context, orgID, id snowflake.ID) ([]LedgerEntry, error)

	Execute(ctx context.Context, req ExecuteRequest) (OperationResult, error)
	Consume(ctx context.Context, orgID, id snowflake.ID, params OperationParams) (OperationResult, error)
	Replenish(ctx context.Context, orgID, id snowflake.ID, params OperationParams) (OperationResult, error)
	Refund(ctx context.Context, orgID, id snowflake.ID, params OperationParams) (OperationResult, error)
	Close(ctx context.Context, orgID, id snowflake.ID, params OperationParams) (OperationResult, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, retainer *Retainer) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Retainer, error)
	// FindForUpdate reads the retainer by id only, so ownership is decided by the caller.
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Retainer, error)
	UpdateVersioned(ctx context.Context, db *gorm.DB, retainer *Retainer, expectedVersion int64) (bool, error)
	ClaimOperationKey(ctx context.Context, db *gorm.DB, key *OperationKey) (bool, error)
	// ClaimPayment returns the existing claim when the payment was already credited.
	ClaimPayment(ctx context.Context, db *gorm.DB, claim *PaymentClaim) (*PaymentClaim, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListRetainerFilter) ([]*Retainer, error)
}

// ReferenceValidator confirms linked invoices and payments belong to the owner.
// It runs inside the coordinator's transaction.
type ReferenceValidator interface {
	ValidateInvoice(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ref string) error
	ValidatePayment(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ref string) error
}

// ReplenishmentRequest is handed to the executor once per qualifying consumption.
type ReplenishmentRequest struct {
	OrgID           snowflake.ID
	RetainerID      snowflake.ID
	ClientID        snowflake.ID
	ConsumptionID   snowflake.ID
	CurrentBalance  int64
	AmountSuggested int64
	Currency        string
	DecidedAt       time.Time
}

type ReplenishmentExecutor interface {
	Dispatch(ctx context.Context, req ReplenishmentRequest) error
}
