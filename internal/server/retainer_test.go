package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/trustledger/internal/observability"
	retainerdomain "github.com/smallbiznis/trustledger/internal/retainer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetainerService struct {
	retainerdomain.Service

	lastCreate  retainerdomain.CreateRetainerRequest
	lastExecute retainerdomain.ExecuteRequest
	lastOrgID   snowflake.ID
	result      retainerdomain.OperationResult
	err         error
}

func (f *fakeRetainerService) Create(_ context.Context, req retainerdomain.CreateRetainerRequest) (retainerdomain.Retainer, error) {
	f.lastCreate = req
	if f.err != nil {
		return retainerdomain.Retainer{}, f.err
	}
	return retainerdomain.Retainer{ID: 900, OrgID: req.OrgID, ClientID: req.ClientID, Status: retainerdomain.StatusActive}, nil
}

func (f *fakeRetainerService) Get(_ context.Context, orgID, id snowflake.ID) (retainerdomain.Retainer, error) {
	f.lastOrgID = orgID
	if f.err != nil {
		return retainerdomain.Retainer{}, f.err
	}
	return retainerdomain.Retainer{ID: id, OrgID: orgID}, nil
}

func (f *fakeRetainerService) Execute(_ context.Context, req retainerdomain.ExecuteRequest) (retainerdomain.OperationResult, error) {
	f.lastExecute = req
	if f.err != nil {
		return retainerdomain.OperationResult{}, f.err
	}
	return f.result, nil
}

func newTestServer(t *testing.T, svc retainerdomain.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{Gin: engine, RetainerSvc: svc})
	return engine
}

func doRequest(engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestRetainerRoutesRequireOrg(t *testing.T) {
	engine := newTestServer(t, &fakeRetainerService{})

	rec := doRequest(engine, http.MethodGet, "/api/retainers/10", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(engine, http.MethodGet, "/api/retainers/10", nil, map[string]string{HeaderOrg: "abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRetainerBindsDecimalAmounts(t *testing.T) {
	svc := &fakeRetainerService{}
	engine := newTestServer(t, svc)

	rec := doRequest(engine, http.MethodPost, "/api/retainers", map[string]any{
		"client_id":           "55",
		"initial_amount":      "1000",
		"minimum_balance":     100,
		"auto_replenish":      true,
		"replenish_threshold": 50,
		"replenish_amount":    "200.00",
	}, map[string]string{HeaderOrg: "7"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, snowflake.ID(7), svc.lastCreate.OrgID)
	assert.Equal(t, snowflake.ID(55), svc.lastCreate.ClientID)
	assert.Equal(t, "1000", svc.lastCreate.InitialAmount.String())
	assert.Equal(t, "100", svc.lastCreate.MinimumBalance.String())
	require.NotNil(t, svc.lastCreate.ReplenishAmount)
	assert.Equal(t, "200", svc.lastCreate.ReplenishAmount.String())

	rec = doRequest(engine, http.MethodPost, "/api/retainers", map[string]any{
		"client_id":      "nope",
		"initial_amount": 10,
	}, map[string]string{HeaderOrg: "7"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestExecuteUsesIdempotencyHeader(t *testing.T) {
	svc := &fakeRetainerService{result: retainerdomain.OperationResult{Replayed: true}}
	engine := newTestServer(t, svc)

	rec := doRequest(engine, http.MethodPost, "/api/retainers/10/consume", map[string]any{
		"amount":          "300",
		"invoice_ref":     " 123 ",
		"idempotency_key": "from-body",
	}, map[string]string{HeaderOrg: "7", HeaderIdempotencyKey: "from-header"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, retainerdomain.OperationConsume, svc.lastExecute.Operation)
	assert.Equal(t, snowflake.ID(10), svc.lastExecute.RetainerID)
	assert.Equal(t, "from-header", svc.lastExecute.Params.IdempotencyKey)
	assert.Equal(t, "123", svc.lastExecute.Params.InvoiceRef)
	assert.Equal(t, "300", svc.lastExecute.Params.Amount.String())
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
}

func TestRefundAcceptsEmptyBody(t *testing.T) {
	svc := &fakeRetainerService{}
	engine := newTestServer(t, svc)

	rec := doRequest(engine, http.MethodPost, "/api/retainers/10/refund", nil, map[string]string{HeaderOrg: "7"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, retainerdomain.OperationRefund, svc.lastExecute.Operation)
}

func TestLedgerErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		retryable bool
	}{
		{retainerdomain.ErrInvalidAmount, http.StatusBadRequest, false},
		{retainerdomain.NewError(retainerdomain.KindInvalidRequest, "bad"), http.StatusBadRequest, false},
		{retainerdomain.ErrRetainerNotFound, http.StatusNotFound, false},
		{retainerdomain.ErrRetainerNotActive, http.StatusConflict, false},
		{retainerdomain.ErrAlreadyRefunded, http.StatusConflict, false},
		{retainerdomain.ErrBalanceNotZero, http.StatusConflict, false},
		{retainerdomain.ErrReferenceInUse, http.StatusConflict, false},
		{retainerdomain.ErrInsufficientBalance, http.StatusUnprocessableEntity, false},
		{retainerdomain.ErrReferenceNotFound, http.StatusUnprocessableEntity, false},
		{retainerdomain.ErrTransactionConflict, http.StatusServiceUnavailable, true},
		{retainerdomain.ErrCommitTimeout, http.StatusServiceUnavailable, true},
		{retainerdomain.NewError(retainerdomain.KindInvariantViolation, "balance drift"), http.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			engine := newTestServer(t, &fakeRetainerService{err: tc.err})
			rec := doRequest(engine, http.MethodPost, "/api/retainers/10/consume", map[string]any{"amount": 1}, map[string]string{HeaderOrg: "7"})
			assert.Equal(t, tc.status, rec.Code)

			payload := decodeError(t, rec)
			assert.Equal(t, tc.retryable, payload.Retryable)
			if tc.retryable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, payload.Message, "drift")
			}
		})
	}
}

func TestGetRetainerRejectsMalformedID(t *testing.T) {
	engine := newTestServer(t, &fakeRetainerService{})
	rec := doRequest(engine, http.MethodGet, "/api/retainers/not-a-number", nil, map[string]string{HeaderOrg: "7"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "retainer_not_found", decodeError(t, rec).Type)
}

func TestHealth(t *testing.T) {
	engine := newTestServer(t, &fakeRetainerService{})
	rec := doRequest(engine, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(engine, http.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
