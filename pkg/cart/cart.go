package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/voicedesk/pkg/content"
)

var (
	// ErrUnknownItem is returned when an item id is not in the catalog.
	ErrUnknownItem = errors.New("unknown catalog item")
	// ErrInvalidQuantity is returned for a non-positive quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Item is one cart entry.
type Item struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

// Store holds carts keyed by session. Items come back in insertion order.
type Store interface {
	Add(ctx context.Context, session, itemID string, qty int) (int, error)
	Remove(ctx context.Context, session, itemID string) (bool, error)
	Items(ctx context.Context, session string) ([]Item, error)
	Clear(ctx context.Context, session string) error
	Close() error
}

// Sweeper is a Store that must drop expired carts itself. Redis expires
// keys server side and does not need it.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Catalog resolves item ids to products.
type Catalog interface {
	ProductByID(id string) (content.Product, error)
}

// Line is a priced cart entry.
type Line struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Qty      int     `json:"qty"`
	Price    float64 `json:"price"`
	Subtotal float64 `json:"subtotal"`
}

// Cart is one session's view of a Store, checked against the catalog.
type Cart struct {
	store   Store
	catalog Catalog
	session string
}

// New binds a store and catalog to one session.
func New(store Store, catalog Catalog, session string) *Cart {
	return &Cart{store: store, catalog: catalog, session: session}
}

// Add increases an item's quantity and returns the new total for it.
func (c *Cart) Add(ctx context.Context, itemID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	if _, err := c.catalog.ProductByID(itemID); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}
	return c.store.Add(ctx, c.session, itemID, qty)
}

// Remove drops an item entirely. It reports whether the item was present.
func (c *Cart) Remove(ctx context.Context, itemID string) (bool, error) {
	return c.store.Remove(ctx, c.session, itemID)
}

// Clear empties the cart.
func (c *Cart) Clear(ctx context.Context) error {
	return c.store.Clear(ctx, c.session)
}

// Lines prices the cart. Items no longer in the catalog are skipped.
func (c *Cart) Lines(ctx context.Context) ([]Line, float64, error) {
	items, err := c.store.Items(ctx, c.session)
	if err != nil {
		return nil, 0, err
	}

	lines := make([]Line, 0, len(items))
	total := 0.0
	for _, item := range items {
		product, err := c.catalog.ProductByID(item.ID)
		if err != nil {
			continue
		}
		subtotal := product.Price * float64(item.Qty)
		total += subtotal
		lines = append(lines, Line{
			ID:       item.ID,
			Name:     product.Name,
			Qty:      item.Qty,
			Price:    product.Price,
			Subtotal: subtotal,
		})
	}
	return lines, total, nil
}
