package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshroute/backend/internal/domain"
)

func sampleCart() domain.Cart {
	return domain.Cart{
		ID:        "cart-1",
		VehicleID: "VAN-01",
		Lines: []domain.SaleLine{
			{ProductID: "P1", Quantity: 12, AppliedPrice: decimal.RequireFromString("70.50"), SaleType: domain.SaleTypeRetail},
		},
		OfferEnabled:     true,
		ExcludedProducts: []string{"P2"},
		StaffID:          "cashier",
	}
}

func TestRedisCartStoreRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisCartStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Save(ctx, sampleCart(), time.Minute))
	assert.True(t, mr.Exists(cartKeyPrefix+"cart-1"))

	cart, ok, err := store.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"P2"}, cart.ExcludedProducts)
	assert.Equal(t, "70.5", cart.Lines[0].AppliedPrice.String())

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, "cart-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCartStoreDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisCartStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleCart(), time.Minute))
	require.NoError(t, store.Delete(ctx, "cart-1"))

	_, ok, err := store.Get(ctx, "cart-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalCartStoreExpiresAndCopies(t *testing.T) {
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	store := NewLocalCartStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	cart := sampleCart()
	require.NoError(t, store.Save(ctx, cart, time.Hour))
	cart.Lines[0].Quantity = 99

	got, ok, err := store.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12, got.Lines[0].Quantity)

	now = now.Add(time.Hour)
	_, ok, err = store.Get(ctx, "cart-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
