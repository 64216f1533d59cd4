package cache

import (
	"context"
	"sync"
	"time"

	"freshroute/backend/internal/domain"
)

// CartStore keeps in-progress carts between requests. Carts expire after
// ttl and are deleted on checkout.
type CartStore interface {
	Get(ctx context.Context, id string) (*domain.Cart, bool, error)
	Save(ctx context.Context, cart domain.Cart, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// LocalCartStore is the in-process fallback when Redis is not configured.
type LocalCartStore struct {
	mu    sync.Mutex
	now   func() time.Time
	carts map[string]localEntry
}

type localEntry struct {
	cart      domain.Cart
	expiresAt time.Time
}

func NewLocalCartStore() *LocalCartStore {
	return &LocalCartStore{now: time.Now, carts: make(map[string]localEntry)}
}

func (s *LocalCartStore) Get(_ context.Context, id string) (*domain.Cart, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.carts[id]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.carts, id)
		return nil, false, nil
	}
	cart := copyCart(entry.cart)
	return &cart, true, nil
}

func (s *LocalCartStore) Save(_ context.Context, cart domain.Cart, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := localEntry{cart: copyCart(cart)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.carts[cart.ID] = entry
	return nil
}

func (s *LocalCartStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, id)
	return nil
}

func copyCart(cart domain.Cart) domain.Cart {
	cart.Lines = append([]domain.SaleLine(nil), cart.Lines...)
	cart.ExcludedProducts = append([]string(nil), cart.ExcludedProducts...)
	return cart
}
