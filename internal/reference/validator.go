package reference

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trustledger/internal/reference/domain"
	retainerdomain "github.com/smallbiznis/trustledger/internal/retainer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ValidatorParams struct {
	fx.In

	Log  *zap.Logger
	Repo domain.Repository
}

// Validator resolves invoice and payment references under the retainer's owner.
type Validator struct {
	log  *zap.Logger
	repo domain.Repository
}

func NewValidator(p ValidatorParams) retainerdomain.ReferenceValidator {
	return &Validator{
		log:  p.Log.Named("reference.validator"),
		repo: p.Repo,
	}
}

func (v *Validator) ValidateInvoice(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ref string) error {
	id, err := parseRef(ref)
	if err != nil {
		return retainerdomain.NewError(retainerdomain.KindReferenceNotFound, "invoice %q is not a valid reference", ref)
	}
	invoice, err := v.repo.FindInvoice(ctx, tx, orgID, id)
	if err != nil {
		return err
	}
	if invoice == nil {
		return retainerdomain.NewError(retainerdomain.KindReferenceNotFound, "invoice %s not found", id)
	}
	if strings.EqualFold(invoice.Status, domain.InvoiceStatusVoid) {
		v.log.Debug("rejecting void invoice reference", zap.String("invoice_id", id.String()))
		return retainerdomain.NewError(retainerdomain.KindReferenceNotFound, "invoice %s is void", id)
	}
	return nil
}

func (v *Validator) ValidatePayment(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ref string) error {
	id, err := parseRef(ref)
	if err != nil {
		return retainerdomain.NewError(retainerdomain.KindReferenceNotFound, "payment %q is not a valid reference", ref)
	}
	payment, err := v.repo.FindPayment(ctx, tx, orgID, id)
	if err != nil {
		return err
	}
	if payment == nil {
		return retainerdomain.NewError(retainerdomain.KindReferenceNotFound, "payment %s not found", id)
	}
	switch strings.ToLower(payment.Status) {
	case domain.PaymentStatusFailed, domain.PaymentStatusPending:
		return retainerdomain.NewError(retainerdomain.KindReferenceNotFound, "payment %s is %s", id, payment.Status)
	}
	return nil
}

func parseRef(ref string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(ref))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, retainerdomain.ErrReferenceNotFound
	}
	return id, nil
}
