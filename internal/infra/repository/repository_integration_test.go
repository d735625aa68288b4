//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/infra/db"
	repo "storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("storefront_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, _ := gdb.DB(); sqlDB != nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func createProduct(t *testing.T, gdb *gorm.DB, stock int64) model.Product {
	t.Helper()
	p, err := NewProductGormRepository(gdb).Create(context.Background(), model.Product{
		Name: "widget", Price: 100, Stock: stock, IsActive: true,
	})
	require.NoError(t, err)
	return p
}

// 最後の1個を同時に取り合っても成功は1件だけ
func TestInventory_DecreaseStockIfEnough_Concurrent(t *testing.T) {
	gdb := setupPostgres(t)
	p := createProduct(t, gdb, 1)
	tm := NewTxManagerGorm(gdb)

	const buyers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tm.WithinTx(context.Background(), func(r repo.TxRepos) error {
				ok, err := r.Inventory().DecreaseStockIfEnough(context.Background(), p.ID, 1)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := NewProductGormRepository(gdb).FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Stock)
	assert.Equal(t, int64(1), got.Sold)
}

func TestInventory_IncreaseStock_RestoresSoftDeleted(t *testing.T) {
	gdb := setupPostgres(t)
	ctx := context.Background()
	p := createProduct(t, gdb, 0)
	inv := NewInventoryGormRepository(gdb)

	require.NoError(t, NewProductGormRepository(gdb).SoftDelete(ctx, p.ID))
	require.NoError(t, inv.IncreaseStock(ctx, p.ID, 3))
	assert.ErrorIs(t, inv.IncreaseStock(ctx, 999999, 1), repo.ErrNotFound)

	var raw model.Product
	require.NoError(t, gdb.Unscoped().First(&raw, p.ID).Error)
	assert.Equal(t, int64(3), raw.Stock)
	assert.Equal(t, int64(0), raw.Sold)
}

func TestOrder_UpdateStatus_ReturnsUpdatedRow(t *testing.T) {
	gdb := setupPostgres(t)
	ctx := context.Background()
	orders := NewOrderGormRepository(gdb)

	created, err := orders.Create(ctx, model.Order{
		BuyerID:       7,
		Status:        model.OrderStatusNotProcessed,
		PaymentAmount: 100,
		Payment:       model.PaymentResult{Success: true, Transaction: model.PaymentTransaction{ID: "t1", Amount: 100}},
	})
	require.NoError(t, err)

	updated, err := orders.UpdateStatus(ctx, created.ID, model.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, int64(7), updated.BuyerID)
	assert.Equal(t, model.OrderStatusShipped, updated.Status)
	assert.Equal(t, "t1", updated.Payment.Transaction.ID)

	_, err = orders.UpdateStatus(ctx, 999999, model.OrderStatusShipped)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOrder_IdempotencyKeyIsUniquePerBuyer(t *testing.T) {
	gdb := setupPostgres(t)
	ctx := context.Background()
	orders := NewOrderGormRepository(gdb)
	key := "k-1"

	_, err := orders.Create(ctx, model.Order{BuyerID: 7, Status: model.OrderStatusNotProcessed, IdempotencyKey: &key})
	require.NoError(t, err)
	_, err = orders.Create(ctx, model.Order{BuyerID: 7, Status: model.OrderStatusNotProcessed, IdempotencyKey: &key})
	assert.ErrorIs(t, err, repo.ErrDuplicate)
	// 別の購入者なら同じキーでもよい
	_, err = orders.Create(ctx, model.Order{BuyerID: 8, Status: model.OrderStatusNotProcessed, IdempotencyKey: &key})
	assert.NoError(t, err)

	found, ok, err := orders.FindByIdempotencyKey(ctx, 7, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), found.BuyerID)
}

func TestCheckoutAttempt_ClaimCompleteDelete(t *testing.T) {
	gdb := setupPostgres(t)
	ctx := context.Background()
	attempts := NewCheckoutAttemptGormRepository(gdb)

	a, err := attempts.Create(ctx, model.CheckoutAttempt{
		BuyerID: 7, Key: "k-1", RequestHash: "h", Status: model.CheckoutAttemptPending,
	})
	require.NoError(t, err)

	_, err = attempts.Create(ctx, model.CheckoutAttempt{
		BuyerID: 7, Key: "k-1", RequestHash: "h", Status: model.CheckoutAttemptPending,
	})
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	require.NoError(t, attempts.Complete(ctx, a.ID, 55))
	// COMPLETEDは二度目の完了も削除も受け付けない
	assert.ErrorIs(t, attempts.Complete(ctx, a.ID, 56), repo.ErrNotFound)
	require.NoError(t, attempts.Delete(ctx, a.ID))

	got, err := attempts.FindByBuyerAndKey(ctx, 7, "k-1")
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutAttemptCompleted, got.Status)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, int64(55), *got.OrderID)

	_, err = attempts.FindByBuyerAndKey(ctx, 7, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCheckoutAttempt_StalePendingAndFlag(t *testing.T) {
	gdb := setupPostgres(t)
	ctx := context.Background()
	attempts := NewCheckoutAttemptGormRepository(gdb)

	old, err := attempts.Create(ctx, model.CheckoutAttempt{BuyerID: 7, Key: "old", RequestHash: "h", Status: model.CheckoutAttemptPending})
	require.NoError(t, err)
	_, err = attempts.Create(ctx, model.CheckoutAttempt{BuyerID: 7, Key: "fresh", RequestHash: "h", Status: model.CheckoutAttemptPending})
	require.NoError(t, err)
	done, err := attempts.Create(ctx, model.CheckoutAttempt{BuyerID: 7, Key: "done", RequestHash: "h", Status: model.CheckoutAttemptPending})
	require.NoError(t, err)
	require.NoError(t, attempts.Complete(ctx, done.ID, 55))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, gdb.Model(&model.CheckoutAttempt{}).
		Where("id IN ?", []int64{old.ID, done.ID}).
		UpdateColumn("updated_at", past).Error)

	threshold := time.Now().Add(-15 * time.Minute)
	stale, err := attempts.ListStalePending(ctx, threshold, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	require.NoError(t, attempts.MarkFlagged(ctx, old.ID, time.Now()))
	stale, err = attempts.ListStalePending(ctx, threshold, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	got, err := attempts.FindByBuyerAndKey(ctx, 7, "old")
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutAttemptPending, got.Status)
	require.NotNil(t, got.FlaggedAt)
	assert.WithinDuration(t, past, got.UpdatedAt, time.Second)

	assert.ErrorIs(t, attempts.MarkFlagged(ctx, done.ID, time.Now()), repo.ErrNotFound)
}

func TestOutbox_ListUnsentAndMarkSent(t *testing.T) {
	gdb := setupPostgres(t)
	ctx := context.Background()
	outbox := NewOutboxGormRepository(gdb)

	ids := []string{uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		require.NoError(t, outbox.Create(ctx, model.OutboxMessage{
			ID: id, AggregateID: 1, EventType: model.EventOrderCreated, Key: "1", Payload: []byte(`{"id":"x"}`),
		}))
	}

	msgs, err := outbox.ListUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, outbox.MarkSent(ctx, ids[0], time.Now()))
	assert.ErrorIs(t, outbox.MarkSent(ctx, uuid.NewString(), time.Now()), repo.ErrNotFound)

	msgs, err = outbox.ListUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ids[1], msgs[0].ID)
}

func TestProduct_FindByIDs_SkipsMissingAndDeleted(t *testing.T) {
	gdb := setupPostgres(t)
	ctx := context.Background()
	products := NewProductGormRepository(gdb)
	a := createProduct(t, gdb, 1)
	b := createProduct(t, gdb, 1)
	require.NoError(t, products.SoftDelete(ctx, b.ID))

	got, err := products.FindByIDs(ctx, []int64{a.ID, b.ID, 999999})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, a.ID, got[a.ID].ID)
}
