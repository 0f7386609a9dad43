package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/trustledger/internal/amount"
	auditdomain "github.com/smallbiznis/trustledger/internal/audit/domain"
	"github.com/smallbiznis/trustledger/internal/clock"
	"github.com/smallbiznis/trustledger/internal/config"
	"github.com/smallbiznis/trustledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/trustledger/internal/observability/metrics"
	"github.com/smallbiznis/trustledger/internal/observability/tracing"
	"github.com/smallbiznis/trustledger/internal/retainer/domain"
	"github.com/smallbiznis/trustledger/pkg/db"
	"github.com/smallbiznis/trustledger/pkg/db/pagination"
	"github.com/smallbiznis/trustledger/pkg/rls"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     *config.LedgerConfigHolder
	Repo       domain.Repository
	References domain.ReferenceValidator
	AuditSvc   auditdomain.Service            `optional:"true"`
	Executor   domain.ReplenishmentExecutor   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics            `optional:"true"`
	TxMetrics  *obsmetrics.CoordinatorMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        *config.LedgerConfigHolder
	repo       domain.Repository
	references domain.ReferenceValidator
	auditSvc   auditdomain.Service
	executor   domain.ReplenishmentExecutor
	obsMetrics *obsmetrics.Metrics
	txMetrics  *obsmetrics.CoordinatorMetrics
	tracer     trace.Tracer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("retainer.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Config,
		repo:       p.Repo,
		references: p.References,
		auditSvc:   p.AuditSvc,
		executor:   p.Executor,
		obsMetrics: p.ObsMetrics,
		txMetrics:  p.TxMetrics,
		tracer:     otel.Tracer("trustledger/retainer"),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRetainerRequest) (domain.Retainer, error) {
	if req.OrgID == 0 {
		return domain.Retainer{}, domain.ErrInvalidOrganization
	}
	cfg := s.cfg.Get()
	opts := amount.Options{AllowZero: true, MaxAmount: cfg.MaxAmount}

	initial, err := normalizeAmount("initial_amount", req.InitialAmount, opts)
	if err != nil {
		return domain.Retainer{}, err
	}
	minimum, err := normalizeAmount("minimum_balance", req.MinimumBalance, opts)
	if err != nil {
		return domain.Retainer{}, err
	}
	threshold, err := normalizeOptional("replenish_threshold", req.ReplenishThreshold, opts)
	if err != nil {
		return domain.Retainer{}, err
	}
	replenishAmount, err := normalizeOptional("replenish_amount", req.ReplenishAmount, amount.Options{MaxAmount: cfg.MaxAmount})
	if err != nil {
		return domain.Retainer{}, err
	}

	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = cfg.DefaultCurrency
	}

	depositID := s.genID.Generate()
	retainer, err := domain.NewRetainer(domain.NewRetainerParams{
		ID:                 s.genID.Generate(),
		DepositID:          depositID,
		OrgID:              req.OrgID,
		ClientID:           req.ClientID,
		CaseID:             req.CaseID,
		Type:               req.Type,
		Currency:           currency,
		InitialAmount:      initial,
		MinimumBalance:     minimum,
		AutoReplenish:      req.AutoReplenish,
		ReplenishThreshold: threshold,
		ReplenishAmount:    replenishAmount,
		PaymentRef:         req.PaymentRef,
		CreatedAt:          s.clock.Now(),
	})
	if err != nil {
		return domain.Retainer{}, err
	}

	txCtx, cancel := context.WithTimeout(ctx, cfg.CommitTimeout)
	defer cancel()
	err = s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, req.OrgID); err != nil {
			return err
		}
		ref := strings.TrimSpace(req.PaymentRef)
		if ref != "" {
			if err := s.references.ValidatePayment(txCtx, tx, req.OrgID, ref); err != nil {
				return err
			}
		}
		if err := s.repo.Insert(txCtx, tx, &retainer); err != nil {
			return err
		}
		if ref == "" {
			return nil
		}
		claim, err := s.repo.ClaimPayment(txCtx, tx, &domain.PaymentClaim{
			ID:         s.genID.Generate(),
			OrgID:      req.OrgID,
			PaymentRef: ref,
			RetainerID: retainer.ID,
			DepositID:  depositID,
			CreatedAt:  retainer.CreatedAt,
		})
		if err != nil {
			return err
		}
		if claim != nil {
			return paymentInUse(ref, claim)
		}
		return nil
	}, db.TxOptions(s.db, cfg.Isolation))
	if err != nil {
		return domain.Retainer{}, classifyError(txCtx, err)
	}

	s.audit(ctx, retainer, "retainer.created", map[string]any{
		"client_id":      retainer.ClientID.String(),
		"retainer_type":  string(retainer.Type),
		"currency":       retainer.Currency,
		"initial_amount": retainer.InitialAmount,
		"auto_replenish": retainer.AutoReplenish,
	})
	logger.WithContext(ctx, s.log).Info("retainer created",
		zap.String("retainer_id", retainer.ID.String()),
		zap.String("org_id", retainer.OrgID.String()),
	)
	return retainer, nil
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (domain.Retainer, error) {
	if orgID == 0 {
		return domain.Retainer{}, domain.ErrInvalidOrganization
	}
	if id == 0 {
		return domain.Retainer{}, domain.ErrRetainerNotFound
	}
	retainer, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return domain.Retainer{}, classifyError(ctx, err)
	}
	if err := guardOwnership(retainer, orgID); err != nil {
		return domain.Retainer{}, err
	}
	return *retainer, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRetainerRequest) (domain.ListRetainerResponse, error) {
	if req.OrgID == 0 {
		return domain.ListRetainerResponse{}, domain.ErrInvalidOrganization
	}
	if req.Status != "" && req.Status != domain.StatusActive && req.Status != domain.StatusRefunded && req.Status != domain.StatusClosed {
		return domain.ListRetainerResponse{}, domain.NewError(domain.KindInvalidRequest, "unknown status %q", req.Status)
	}

	position, err := pagination.ParseToken(req.PageToken)
	if err != nil {
		return domain.ListRetainerResponse{}, domain.NewError(domain.KindInvalidRequest, "invalid page_token")
	}
	var cursor *domain.ListCursor
	if position != nil {
		cursor = &domain.ListCursor{ID: position.ID, CreatedAt: position.CreatedAt}
	}

	pageSize := pagination.Pagination{PageSize: int(req.PageSize)}.Size()
	items, err := s.repo.List(ctx, s.db, req.OrgID, domain.ListRetainerFilter{
		ClientID: req.ClientID,
		CaseID:   req.CaseID,
		Status:   req.Status,
		Cursor:   cursor,
		Limit:    pageSize,
	})
	if err != nil {
		return domain.ListRetainerResponse{}, classifyError(ctx, err)
	}

	items, pageInfo := pagination.Page(items, pageSize, func(item *domain.Retainer) (snowflake.ID, time.Time) {
		return item.ID, item.CreatedAt
	})
	retainers := make([]domain.Retainer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		retainers = append(retainers, *item)
	}
	return domain.ListRetainerResponse{PageInfo: pageInfo, Retainers: retainers}, nil
}

func (s *Service) History(ctx context.Context, orgID, id snowflake.ID) ([]domain.LedgerEntry, error) {
	retainer, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	return domain.History(retainer), nil
}

func (s *Service) Consume(ctx context.Context, orgID, id snowflake.ID, params domain.OperationParams) (domain.OperationResult, error) {
	return s.Execute(ctx, domain.ExecuteRequest{RetainerID: id, OrgID: orgID, Operation: domain.OperationConsume, Params: params})
}

func (s *Service) Replenish(ctx context.Context, orgID, id snowflake.ID, params domain.OperationParams) (domain.OperationResult, error) {
	return s.Execute(ctx, domain.ExecuteRequest{RetainerID: id, OrgID: orgID, Operation: domain.OperationReplenish, Params: params})
}

func (s *Service) Refund(ctx context.Context, orgID, id snowflake.ID, params domain.OperationParams) (domain.OperationResult, error) {
	return s.Execute(ctx, domain.ExecuteRequest{RetainerID: id, OrgID: orgID, Operation: domain.OperationRefund, Params: params})
}

func (s *Service) Close(ctx context.Context, orgID, id snowflake.ID, params domain.OperationParams) (domain.OperationResult, error) {
	return s.Execute(ctx, domain.ExecuteRequest{RetainerID: id, OrgID: orgID, Operation: domain.OperationClose, Params: params})
}

// Execute runs one ledger operation in a single transaction. The retainer is
// re-read under lock, checked, mutated through the pure ledger functions and
// written back guarded by its version. It never retries.
func (s *Service) Execute(ctx context.Context, req domain.ExecuteRequest) (domain.OperationResult, error) {
	ctx, span := s.tracer.Start(ctx, "retainer.execute", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("retainer.operation", string(req.Operation)),
	)...))
	defer span.End()

	result, err := s.execute(ctx, req)
	if err != nil {
		kind := domain.KindOf(err)
		s.obsMetrics.RecordRetainerOperation(ctx, string(req.Operation), string(kind))
		span.SetAttributes(attribute.String("retainer.error_kind", string(kind)))
		if kind.Transient() || kind == domain.KindInternal || kind == domain.KindInvariantViolation {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, string(kind))
		}
		s.logFailure(ctx, req, kind, err)
		return domain.OperationResult{}, err
	}

	if result.Replayed {
		s.obsMetrics.RecordRetainerOperation(ctx, string(req.Operation), obsmetrics.OutcomeReplayed)
		s.txMetrics.IncReplay(string(req.Operation))
		span.SetAttributes(attribute.Bool("retainer.replayed", true))
		return result, nil
	}
	s.obsMetrics.RecordRetainerOperation(ctx, string(req.Operation), obsmetrics.OutcomeSuccess)

	s.audit(ctx, result.Retainer, "retainer."+string(req.Operation), operationMetadata(req, result))

	if req.Operation == domain.OperationConsume {
		decision := domain.Check(result.Retainer)
		result.Replenishment = &decision
		s.afterConsume(ctx, result, decision)
	}
	return result, nil
}

func (s *Service) execute(ctx context.Context, req domain.ExecuteRequest) (domain.OperationResult, error) {
	if req.OrgID == 0 {
		return domain.OperationResult{}, domain.ErrInvalidOrganization
	}
	if req.RetainerID == 0 {
		return domain.OperationResult{}, domain.ErrRetainerNotFound
	}
	if !req.Operation.IsValid() {
		return domain.OperationResult{}, domain.NewError(domain.KindInvalidRequest, "unknown operation %q", req.Operation)
	}

	cfg := s.cfg.Get()
	var value int64
	switch req.Operation {
	case domain.OperationConsume, domain.OperationReplenish:
		normalized, err := normalizeAmount("amount", req.Params.Amount, amount.Options{MaxAmount: cfg.MaxAmount})
		if err != nil {
			return domain.OperationResult{}, err
		}
		value = normalized
	}

	txCtx, cancel := context.WithTimeout(ctx, cfg.CommitTimeout)
	defer cancel()

	start := time.Now()
	var result domain.OperationResult
	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		return s.apply(txCtx, tx, cfg, req, value, &result)
	}, db.TxOptions(s.db, cfg.Isolation))
	s.txMetrics.ObserveTxDuration(string(req.Operation), time.Since(start))
	if err != nil {
		err = classifyError(txCtx, err)
		reason := obsmetrics.ClassifyTxReason(errors.Unwrap(err))
		if reason == "" && errors.Is(err, domain.ErrTransactionConflict) {
			reason = obsmetrics.TxReasonVersionConflict
		}
		s.txMetrics.IncTxError(string(req.Operation), reason)
		return domain.OperationResult{}, err
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, cfg config.LedgerConfig, req domain.ExecuteRequest, value int64, out *domain.OperationResult) error {
	if err := db.SetSynchronousCommit(tx, cfg.SynchronousCommit); err != nil {
		return err
	}
	if err := rls.WithTenant(tx, req.OrgID); err != nil {
		return err
	}

	lockStart := time.Now()
	current, err := s.repo.FindForUpdate(ctx, tx, req.RetainerID)
	s.txMetrics.ObserveLockWait(string(req.Operation), time.Since(lockStart))
	if err != nil {
		return err
	}
	if err := guardOwnership(current, req.OrgID); err != nil {
		return err
	}

	now := s.clock.Now()
	if key := idempotencyKey(req); key != "" {
		claimed, err := s.repo.ClaimOperationKey(ctx, tx, &domain.OperationKey{
			ID:             s.genID.Generate(),
			OrgID:          req.OrgID,
			RetainerID:     req.RetainerID,
			Operation:      req.Operation,
			IdempotencyKey: key,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		if !claimed {
			*out = domain.OperationResult{
				Retainer:  *current,
				Operation: req.Operation,
				Replayed:  true,
			}
			return nil
		}
	}

	var (
		next     domain.Retainer
		refunded int64
	)
	switch req.Operation {
	case domain.OperationConsume:
		next, err = domain.ApplyConsume(*current, value, domain.ConsumeEntry{
			ID:          s.genID.Generate(),
			Date:        now,
			InvoiceRef:  req.Params.InvoiceRef,
			Description: req.Params.Description,
		})
		if err == nil && strings.TrimSpace(req.Params.InvoiceRef) != "" {
			err = s.references.ValidateInvoice(ctx, tx, req.OrgID, strings.TrimSpace(req.Params.InvoiceRef))
		}
	case domain.OperationReplenish:
		depositID := s.genID.Generate()
		if ref := strings.TrimSpace(req.Params.PaymentRef); ref != "" {
			claim, err := s.repo.ClaimPayment(ctx, tx, &domain.PaymentClaim{
				ID:         s.genID.Generate(),
				OrgID:      req.OrgID,
				PaymentRef: ref,
				RetainerID: req.RetainerID,
				DepositID:  depositID,
				CreatedAt:  now,
			})
			if err != nil {
				return err
			}
			if claim != nil {
				if claim.RetainerID != req.RetainerID {
					return paymentInUse(ref, claim)
				}
				// the payment already funded this retainer, possibly at creation
				*out = domain.OperationResult{
					Retainer:  *current,
					Operation: req.Operation,
					Replayed:  true,
				}
				return nil
			}
		}
		next, err = domain.ApplyReplenish(*current, value, domain.DepositEntry{
			ID:         depositID,
			Date:       now,
			PaymentRef: req.Params.PaymentRef,
		})
		if err == nil && strings.TrimSpace(req.Params.PaymentRef) != "" {
			err = s.references.ValidatePayment(ctx, tx, req.OrgID, strings.TrimSpace(req.Params.PaymentRef))
		}
	case domain.OperationRefund:
		next, refunded, err = domain.ApplyRefund(*current, now, req.Params.Reason)
		value = refunded
	case domain.OperationClose:
		next, err = domain.ApplyClose(*current, now)
	}
	if err != nil {
		return err
	}

	if err := domain.CheckInvariants(next); err != nil {
		return err
	}
	if err := domain.CheckAppendOnly(*current, next); err != nil {
		return err
	}

	updated, err := s.repo.UpdateVersioned(ctx, tx, &next, current.Version)
	if err != nil {
		return err
	}
	if !updated {
		return domain.NewError(domain.KindTransactionConflict, "retainer %s changed concurrently", req.RetainerID)
	}

	*out = domain.OperationResult{
		Retainer:       next,
		Operation:      req.Operation,
		Amount:         value,
		RefundedAmount: refunded,
	}
	return nil
}

func (s *Service) afterConsume(ctx context.Context, result domain.OperationResult, decision domain.TriggerDecision) {
	r := result.Retainer
	log := logger.WithContext(ctx, s.log).With(zap.String("retainer_id", r.ID.String()))
	if decision.LowBalance {
		log.Warn("retainer below minimum balance",
			zap.Int64("current_balance", r.CurrentBalance),
			zap.Int64("minimum_balance", r.MinimumBalance),
		)
	}
	if !decision.ShouldReplenish {
		return
	}
	if s.executor == nil {
		log.Warn("replenishment triggered without an executor")
		return
	}

	var consumptionID snowflake.ID
	if n := len(r.Consumptions); n > 0 {
		consumptionID = r.Consumptions[n-1].ID
	}
	err := s.executor.Dispatch(ctx, domain.ReplenishmentRequest{
		OrgID:           r.OrgID,
		RetainerID:      r.ID,
		ClientID:        r.ClientID,
		ConsumptionID:   consumptionID,
		CurrentBalance:  r.CurrentBalance,
		AmountSuggested: decision.AmountSuggested,
		Currency:        r.Currency,
		DecidedAt:       s.clock.Now(),
	})
	if err != nil {
		log.Error("replenishment dispatch failed", zap.Error(err))
		return
	}
	s.obsMetrics.RecordReplenishmentTrigger(ctx, r.Currency, "default")
}

// audit is best-effort: the operation has already committed.
func (s *Service) audit(ctx context.Context, r domain.Retainer, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	orgID := r.OrgID
	targetID := r.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "retainer", &targetID, metadata); err != nil {
		s.obsMetrics.RecordAuditFailure(ctx, action)
		logger.WithContext(ctx, s.log).Warn("failed to write retainer audit log",
			zap.String("action", action),
			zap.String("retainer_id", targetID),
			zap.Error(err),
		)
	}
}

func (s *Service) logFailure(ctx context.Context, req domain.ExecuteRequest, kind domain.Kind, err error) {
	log := logger.WithContext(ctx, s.log)
	fields := []zap.Field{
		zap.String("operation", string(req.Operation)),
		zap.String("retainer_id", req.RetainerID.String()),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	}
	switch {
	case kind == domain.KindInternal || kind == domain.KindInvariantViolation:
		log.Error("retainer operation failed", fields...)
	case kind.Transient():
		log.Warn("retainer operation aborted", fields...)
	default:
		log.Debug("retainer operation rejected", fields...)
	}
}

func operationMetadata(req domain.ExecuteRequest, result domain.OperationResult) map[string]any {
	metadata := map[string]any{
		"operation":       string(req.Operation),
		"amount":          result.Amount,
		"current_balance": result.Retainer.CurrentBalance,
		"status":          string(result.Retainer.Status),
		"version":         result.Retainer.Version,
	}
	if ref := strings.TrimSpace(req.Params.InvoiceRef); ref != "" {
		metadata["invoice_ref"] = ref
	}
	if ref := strings.TrimSpace(req.Params.PaymentRef); ref != "" {
		metadata["payment_ref"] = ref
	}
	if reason := strings.TrimSpace(req.Params.Reason); reason != "" {
		metadata["reason"] = reason
	}
	return metadata
}

func paymentInUse(ref string, claim *domain.PaymentClaim) error {
	return domain.NewError(domain.KindReferenceInUse, "payment %s already funded retainer %s", ref, claim.RetainerID)
}

// idempotencyKey prefers the caller's explicit key and falls back to the
// reference of the originating invoice or payment.
func idempotencyKey(req domain.ExecuteRequest) string {
	if key := strings.TrimSpace(req.Params.IdempotencyKey); key != "" {
		return key
	}
	switch req.Operation {
	case domain.OperationConsume:
		return strings.TrimSpace(req.Params.InvoiceRef)
	case domain.OperationReplenish:
		return strings.TrimSpace(req.Params.PaymentRef)
	default:
		return ""
	}
}

func normalizeAmount(field string, raw decimal.Decimal, opts amount.Options) (int64, error) {
	value, err := amount.Normalize(raw, opts)
	if err != nil {
		return 0, domain.Wrap(domain.KindInvalidAmount, err, field+": "+err.Error())
	}
	return value, nil
}

func normalizeOptional(field string, raw *decimal.Decimal, opts amount.Options) (*int64, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := normalizeAmount(field, *raw, opts)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// classifyError maps storage failures onto the transient kinds. Ledger errors pass through.
func classifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, amount.ErrInvalidAmount) {
		return domain.Wrap(domain.KindInvalidAmount, err, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) || db.IsLockTimeout(err) {
		return domain.Wrap(domain.KindCommitTimeout, err, "transaction did not commit in time")
	}
	if db.IsSerializationFailure(err) || db.IsDuplicateKeyErr(err) {
		return domain.Wrap(domain.KindTransactionConflict, err, "concurrent transaction won")
	}
	return domain.Wrap(domain.KindInternal, err, "storage failure")
}
