package reference

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/trustledger/internal/reference/domain"
	retainerdomain "github.com/smallbiznis/trustledger/internal/retainer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupValidator(t *testing.T) (retainerdomain.ReferenceValidator, *gorm.DB, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", node.Generate().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Invoice{}, &domain.Payment{}))

	v := NewValidator(ValidatorParams{Log: zap.NewNop(), Repo: NewRepository()})
	return v, db, node
}

func TestValidateInvoice(t *testing.T) {
	v, db, node := setupValidator(t)
	ctx := context.Background()
	orgID := snowflake.ID(10)
	now := time.Now().UTC()

	open := domain.Invoice{ID: node.Generate(), OrgID: orgID, Status: "finalized", CreatedAt: now}
	void := domain.Invoice{ID: node.Generate(), OrgID: orgID, Status: "VOID", CreatedAt: now}
	foreign := domain.Invoice{ID: node.Generate(), OrgID: 11, Status: "finalized", CreatedAt: now}
	require.NoError(t, db.Create([]*domain.Invoice{&open, &void, &foreign}).Error)

	assert.NoError(t, v.ValidateInvoice(ctx, db, orgID, open.ID.String()))
	assert.NoError(t, v.ValidateInvoice(ctx, db, orgID, " "+open.ID.String()+" "))

	cases := map[string]string{
		"void":      void.ID.String(),
		"foreign":   foreign.ID.String(),
		"missing":   node.Generate().String(),
		"malformed": "INV-001",
		"zero":      "0",
	}
	for name, ref := range cases {
		t.Run(name, func(t *testing.T) {
			err := v.ValidateInvoice(ctx, db, orgID, ref)
			assert.ErrorIs(t, err, retainerdomain.ErrReferenceNotFound)
		})
	}
}

func TestValidatePayment(t *testing.T) {
	v, db, node := setupValidator(t)
	ctx := context.Background()
	orgID := snowflake.ID(10)
	now := time.Now().UTC()

	captured := domain.Payment{ID: node.Generate(), OrgID: orgID, Status: "succeeded", CreatedAt: now}
	pending := domain.Payment{ID: node.Generate(), OrgID: orgID, Status: "pending", CreatedAt: now}
	failed := domain.Payment{ID: node.Generate(), OrgID: orgID, Status: "Failed", CreatedAt: now}
	require.NoError(t, db.Create([]*domain.Payment{&captured, &pending, &failed}).Error)

	assert.NoError(t, v.ValidatePayment(ctx, db, orgID, captured.ID.String()))
	assert.ErrorIs(t, v.ValidatePayment(ctx, db, orgID, pending.ID.String()), retainerdomain.ErrReferenceNotFound)
	assert.ErrorIs(t, v.ValidatePayment(ctx, db, orgID, failed.ID.String()), retainerdomain.ErrReferenceNotFound)
	assert.ErrorIs(t, v.ValidatePayment(ctx, db, 99, captured.ID.String()), retainerdomain.ErrReferenceNotFound)
}
