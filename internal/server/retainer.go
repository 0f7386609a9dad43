package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/trustledger/internal/audit/domain"
	retainerdomain "github.com/smallbiznis/trustledger/internal/retainer/domain"
	"github.com/smallbiznis/trustledger/pkg/db/pagination"
)

// Amounts bind from JSON numbers or strings, both in minor units.
type createRetainerRequest struct {
	ClientID           string           `json:"client_id"`
	CaseID             string           `json:"case_id"`
	RetainerType       string           `json:"retainer_type"`
	Currency           string           `json:"currency"`
	InitialAmount      decimal.Decimal  `json:"initial_amount"`
	MinimumBalance     decimal.Decimal  `json:"minimum_balance"`
	AutoReplenish      bool             `json:"auto_replenish"`
	ReplenishThreshold *decimal.Decimal `json:"replenish_threshold"`
	ReplenishAmount    *decimal.Decimal `json:"replenish_amount"`
	PaymentRef         string           `json:"payment_ref"`
}

type retainerOperationRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	InvoiceRef     string          `json:"invoice_ref"`
	PaymentRef     string          `json:"payment_ref"`
	Description    string          `json:"description"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (s *Server) CreateRetainer(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createRetainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	clientID, err := parseSnowflakeID(req.ClientID)
	if err != nil {
		AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid client_id"))
		return
	}
	caseID, err := parseOptionalSnowflakeID(req.CaseID)
	if err != nil {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case_id"))
		return
	}

	resp, err := s.retainerSvc.Create(c.Request.Context(), retainerdomain.CreateRetainerRequest{
		OrgID:              orgID,
		ClientID:           clientID,
		CaseID:             caseID,
		Type:               retainerdomain.RetainerType(strings.TrimSpace(req.RetainerType)),
		Currency:           strings.TrimSpace(req.Currency),
		InitialAmount:      req.InitialAmount,
		MinimumBalance:     req.MinimumBalance,
		AutoReplenish:      req.AutoReplenish,
		ReplenishThreshold: req.ReplenishThreshold,
		ReplenishAmount:    req.ReplenishAmount,
		PaymentRef:         strings.TrimSpace(req.PaymentRef),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListRetainers(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query struct {
		pagination.Pagination
		ClientID string `form:"client_id"`
		CaseID   string `form:"case_id"`
		Status   string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	clientID, err := parseOptionalSnowflakeID(query.ClientID)
	if err != nil {
		AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid client_id"))
		return
	}
	caseID, err := parseOptionalSnowflakeID(query.CaseID)
	if err != nil {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case_id"))
		return
	}

	resp, err := s.retainerSvc.List(c.Request.Context(), retainerdomain.ListRetainerRequest{
		OrgID:     orgID,
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  int32(query.PageSize),
		ClientID:  clientID,
		CaseID:    caseID,
		Status:    retainerdomain.Status(strings.TrimSpace(query.Status)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Retainers, "page_info": resp.PageInfo})
}

func (s *Server) GetRetainerByID(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, retainerdomain.ErrRetainerNotFound)
		return
	}

	resp, err := s.retainerSvc.Get(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRetainerHistory(c *gin.Context) {
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, retainerdomain.ErrRetainerNotFound)
		return
	}

	entries, err := s.retainerSvc.History(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// ExecuteRetainerOperation serves consume, replenish, refund and close.
func (s *Server) ExecuteRetainerOperation(op retainerdomain.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("retainer_operation", string(op))

		orgID, err := orgIDFromRequest(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		id, err := parseSnowflakeID(c.Param("id"))
		if err != nil {
			AbortWithError(c, retainerdomain.ErrRetainerNotFound)
			return
		}

		var req retainerOperationRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				AbortWithError(c, invalidRequestError())
				return
			}
		}
		idempotencyKey := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if idempotencyKey == "" {
			idempotencyKey = strings.TrimSpace(req.IdempotencyKey)
		}

		result, err := s.retainerSvc.Execute(c.Request.Context(), retainerdomain.ExecuteRequest{
			RetainerID: id,
			OrgID:      orgID,
			Operation:  op,
			Params: retainerdomain.OperationParams{
				Amount:         req.Amount,
				InvoiceRef:     strings.TrimSpace(req.InvoiceRef),
				PaymentRef:     strings.TrimSpace(req.PaymentRef),
				Description:    strings.TrimSpace(req.Description),
				Reason:         strings.TrimSpace(req.Reason),
				IdempotencyKey: idempotencyKey,
			},
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if result.Replayed {
			c.Header("Idempotent-Replayed", "true")
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

func (s *Server) ListRetainerAuditLogs(c *gin.Context) {
	if s.auditSvc == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	orgID, err := orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, retainerdomain.ErrRetainerNotFound)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// resolve the retainer first so foreign ids stay invisible
	if _, err := s.retainerSvc.Get(c.Request.Context(), orgID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		OrgID:      orgID,
		TargetType: "retainer",
		TargetID:   id.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
