//go:build integration

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/trustledger/internal/migration"
	"github.com/smallbiznis/trustledger/internal/retainer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newPostgresEnv(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("trustledger_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.RunMigrations(sqlDB))
	return newTestEnvWithDB(t, db, envOptions{})
}

func TestPostgresConcurrentConsumeSerializesOnRowLock(t *testing.T) {
	env := newPostgresEnv(t)
	r := env.createRetainer(t, 100)

	const workers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = env.svc.Consume(context.Background(), testOrgID, r.ID, amountParams(60))
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, insufficient)

	stored, err := env.svc.Get(context.Background(), testOrgID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), stored.CurrentBalance)
	assert.Equal(t, int64(1), stored.Version)
	require.NoError(t, domain.CheckInvariants(stored))
}

func TestPostgresConcurrentPaymentClaim(t *testing.T) {
	env := newPostgresEnv(t)
	payment := env.seedPayment(t, testOrgID, "succeeded")

	const workers = 4
	retainers := make([]domain.Retainer, workers)
	for i := range retainers {
		retainers[i] = env.createRetainer(t, 10)
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			params := amountParams(500)
			params.PaymentRef = payment
			_, errs[i] = env.svc.Replenish(context.Background(), testOrgID, retainers[i].ID, params)
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded, inUse int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrReferenceInUse):
			inUse++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, inUse)

	var total int64
	require.NoError(t, env.db.Model(&domain.Retainer{}).Select("COALESCE(SUM(current_balance), 0)").Scan(&total).Error)
	assert.Equal(t, int64(workers*10+500), total)
}
