package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// NewRetainerParams carries already-normalized inputs for a new retainer.
type NewRetainerParams struct {
	ID                 snowflake.ID
	DepositID          snowflake.ID
	OrgID              snowflake.ID
	ClientID           snowflake.ID
	CaseID             *snowflake.ID
	Type               RetainerType
	Currency           string
	InitialAmount      int64
	MinimumBalance     int64
	AutoReplenish      bool
	ReplenishThreshold *int64
	ReplenishAmount    *int64
	PaymentRef         string
	CreatedAt          time.Time
}

// DepositEntry describes a deposit about to be appended.
type DepositEntry struct {
	ID         snowflake.ID
	Date       time.Time
	PaymentRef string
}

// ConsumeEntry describes a consumption about to be appended.
type ConsumeEntry struct {
	ID          snowflake.ID
	Date        time.Time
	InvoiceRef  string
	Description string
}

// NewRetainer builds an active retainer whose first deposit is the initial amount.
func NewRetainer(p NewRetainerParams) (Retainer, error) {
	if p.OrgID == 0 {
		return Retainer{}, ErrInvalidOrganization
	}
	if p.ID == 0 || p.DepositID == 0 {
		return Retainer{}, NewError(KindInvalidRequest, "retainer and deposit ids are required")
	}
	if p.ClientID == 0 {
		return Retainer{}, NewError(KindInvalidRequest, "client_id is required")
	}
	if p.CaseID != nil && *p.CaseID == 0 {
		p.CaseID = nil
	}
	if p.Type == "" {
		p.Type = RetainerTypeGeneral
	}
	if !p.Type.IsValid() {
		return Retainer{}, NewError(KindInvalidRequest, "unknown retainer_type %q", p.Type)
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if len(currency) != 3 {
		return Retainer{}, NewError(KindInvalidRequest, "currency must be a 3-letter code")
	}
	if p.InitialAmount < 0 {
		return Retainer{}, NewError(KindInvalidAmount, "initial_amount must not be negative")
	}
	if p.MinimumBalance < 0 {
		return Retainer{}, NewError(KindInvalidAmount, "minimum_balance must not be negative")
	}
	if p.MinimumBalance > p.InitialAmount {
		return Retainer{}, NewError(KindInvalidRequest, "minimum_balance must not exceed initial_amount")
	}
	if p.AutoReplenish {
		if p.ReplenishThreshold == nil || *p.ReplenishThreshold < 0 {
			return Retainer{}, NewError(KindInvalidRequest, "replenish_threshold is required when auto_replenish is enabled")
		}
		if p.ReplenishAmount == nil || *p.ReplenishAmount <= 0 {
			return Retainer{}, NewError(KindInvalidRequest, "replenish_amount must be positive when auto_replenish is enabled")
		}
	}

	createdAt := p.CreatedAt.UTC()
	r := Retainer{
		ID:                 p.ID,
		OrgID:              p.OrgID,
		ClientID:           p.ClientID,
		CaseID:             p.CaseID,
		Type:               p.Type,
		Currency:           currency,
		InitialAmount:      p.InitialAmount,
		CurrentBalance:     p.InitialAmount,
		MinimumBalance:     p.MinimumBalance,
		Status:             StatusActive,
		AutoReplenish:      p.AutoReplenish,
		ReplenishThreshold: p.ReplenishThreshold,
		ReplenishAmount:    p.ReplenishAmount,
		Deposits: datatypes.JSONSlice[Deposit]{{
			ID:         p.DepositID,
			Date:       createdAt,
			Amount:     p.InitialAmount,
			PaymentRef: strings.TrimSpace(p.PaymentRef),
		}},
		Consumptions: datatypes.JSONSlice[Consumption]{},
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if err := CheckInvariants(r); err != nil {
		return Retainer{}, err
	}
	return r, nil
}

// CanConsume reports whether amount can be billed against r right now.
func CanConsume(r Retainer, amount int64) bool {
	return r.Status == StatusActive && amount <= r.CurrentBalance
}

// ApplyConsume returns a copy of r with the consumption appended and the balance reduced.
func ApplyConsume(r Retainer, amount int64, entry ConsumeEntry) (Retainer, error) {
	if r.Status != StatusActive {
		return Retainer{}, notActive(r)
	}
	if amount <= 0 {
		return Retainer{}, NewError(KindInvalidAmount, "consumption must be positive")
	}
	if !CanConsume(r, amount) {
		return Retainer{}, NewError(KindInsufficientBalance, "balance %d is below requested %d", r.CurrentBalance, amount)
	}

	next := clone(r)
	next.CurrentBalance -= amount
	next.Consumptions = append(next.Consumptions, Consumption{
		ID:          entry.ID,
		Date:        entry.Date.UTC(),
		Amount:      amount,
		InvoiceRef:  strings.TrimSpace(entry.InvoiceRef),
		Description: strings.TrimSpace(entry.Description),
	})
	next.UpdatedAt = entry.Date.UTC()
	return next, nil
}

// ApplyReplenish returns a copy of r with the deposit appended and the balance increased.
func ApplyReplenish(r Retainer, amount int64, entry DepositEntry) (Retainer, error) {
	if r.Status != StatusActive {
		return Retainer{}, notActive(r)
	}
	if amount <= 0 {
		return Retainer{}, NewError(KindInvalidAmount, "deposit must be positive")
	}

	next := clone(r)
	next.CurrentBalance += amount
	next.Deposits = append(next.Deposits, Deposit{
		ID:         entry.ID,
		Date:       entry.Date.UTC(),
		Amount:     amount,
		PaymentRef: strings.TrimSpace(entry.PaymentRef),
	})
	next.UpdatedAt = entry.Date.UTC()
	return next, nil
}

// ApplyRefund zeroes the balance, moves r to refunded and returns the refunded amount.
func ApplyRefund(r Retainer, at time.Time, reason string) (Retainer, int64, error) {
	switch r.Status {
	case StatusRefunded:
		return Retainer{}, 0, NewError(KindAlreadyRefunded, "retainer %s was refunded", r.ID)
	case StatusActive:
	default:
		return Retainer{}, 0, notActive(r)
	}

	refunded := r.CurrentBalance
	refundedAt := at.UTC()

	next := clone(r)
	next.CurrentBalance = 0
	next.RefundedAmount = refunded
	next.RefundedAt = &refundedAt
	next.RefundReason = strings.TrimSpace(reason)
	next.Status = StatusRefunded
	next.UpdatedAt = refundedAt
	return next, refunded, nil
}

// ApplyClose moves an empty active retainer to closed.
func ApplyClose(r Retainer, at time.Time) (Retainer, error) {
	if r.Status != StatusActive {
		return Retainer{}, notActive(r)
	}
	if r.CurrentBalance != 0 {
		return Retainer{}, NewError(KindBalanceNotZero, "balance %d must be refunded before closing", r.CurrentBalance)
	}

	closedAt := at.UTC()
	next := clone(r)
	next.Status = StatusClosed
	next.ClosedAt = &closedAt
	next.UpdatedAt = closedAt
	return next, nil
}

// CheckInvariants verifies the balance equation and the structural rules of r.
func CheckInvariants(r Retainer) error {
	if r.CurrentBalance < 0 {
		return NewError(KindInvariantViolation, "negative balance %d", r.CurrentBalance)
	}
	if len(r.Deposits) == 0 || r.Deposits[0].Amount != r.InitialAmount {
		return NewError(KindInvariantViolation, "first deposit must equal initial amount")
	}
	if r.MinimumBalance < 0 || r.MinimumBalance > r.InitialAmount {
		return NewError(KindInvariantViolation, "minimum balance out of range")
	}
	if r.AutoReplenish && (r.ReplenishAmount == nil || *r.ReplenishAmount <= 0 || r.ReplenishThreshold == nil || *r.ReplenishThreshold < 0) {
		return NewError(KindInvariantViolation, "auto replenish requires threshold and positive amount")
	}

	var deposited, consumed int64
	for _, d := range r.Deposits {
		if d.Amount < 0 {
			return NewError(KindInvariantViolation, "negative deposit %s", d.ID)
		}
		deposited += d.Amount
	}
	for _, c := range r.Consumptions {
		if c.Amount <= 0 {
			return NewError(KindInvariantViolation, "non-positive consumption %s", c.ID)
		}
		consumed += c.Amount
	}

	if r.RefundedAmount != 0 && r.Status != StatusRefunded {
		return NewError(KindInvariantViolation, "refunded amount on %s retainer", r.Status)
	}
	if expected := deposited - consumed - r.RefundedAmount; expected != r.CurrentBalance {
		return NewError(KindInvariantViolation, "balance %d does not match history %d", r.CurrentBalance, expected)
	}
	return nil
}

// CheckAppendOnly verifies after keeps every entry of before unchanged and in place.
func CheckAppendOnly(before, after Retainer) error {
	if len(after.Deposits) < len(before.Deposits) || len(after.Consumptions) < len(before.Consumptions) {
		return NewError(KindInvariantViolation, "ledger entries were removed")
	}
	for i := range before.Deposits {
		if !sameDeposit(before.Deposits[i], after.Deposits[i]) {
			return NewError(KindInvariantViolation, "deposit %s was rewritten", before.Deposits[i].ID)
		}
	}
	for i := range before.Consumptions {
		if !sameConsumption(before.Consumptions[i], after.Consumptions[i]) {
			return NewError(KindInvariantViolation, "consumption %s was rewritten", before.Consumptions[i].ID)
		}
	}
	if before.Status == StatusRefunded && (len(after.Deposits) != len(before.Deposits) || len(after.Consumptions) != len(before.Consumptions)) {
		return NewError(KindInvariantViolation, "entries appended to a refunded retainer")
	}
	return nil
}

func sameDeposit(a, b Deposit) bool {
	return a.ID == b.ID && a.Date.Equal(b.Date) && a.Amount == b.Amount && a.PaymentRef == b.PaymentRef
}

func sameConsumption(a, b Consumption) bool {
	return a.ID == b.ID && a.Date.Equal(b.Date) && a.Amount == b.Amount &&
		a.InvoiceRef == b.InvoiceRef && a.Description == b.Description
}

func notActive(r Retainer) error {
	return NewError(KindRetainerNotActive, "retainer %s is %s", r.ID, r.Status)
}

func clone(r Retainer) Retainer {
	next := r
	next.Deposits = append(datatypes.JSONSlice[Deposit]{}, r.Deposits...)
	next.Consumptions = append(datatypes.JSONSlice[Consumption]{}, r.Consumptions...)
	if r.CaseID != nil {
		id := *r.CaseID
		next.CaseID = &id
	}
	if r.ReplenishThreshold != nil {
		v := *r.ReplenishThreshold
		next.ReplenishThreshold = &v
	}
	if r.ReplenishAmount != nil {
		v := *r.ReplenishAmount
		next.ReplenishAmount = &v
	}
	return next
}
