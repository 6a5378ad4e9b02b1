// Package knowledge holds the product facts the reply generator may quote.
package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/convoflow/internal/config"
)

// Item is one knowledge entry.
type Item struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Keywords  []string  `json:"keywords,omitempty"`
	IsActive  bool      `json:"is_active"`
	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source supplies the currently active knowledge items.
type Source interface {
	ActiveItems(ctx context.Context) ([]Item, error)
}

// Base is an in-memory knowledge store.
type Base struct {
	mu    sync.RWMutex
	items map[string]Item
	now   func() time.Time
}

// NewBase creates a base seeded with the configured static items.
func NewBase(cfg config.KnowledgeConfig) *Base {
	b := &Base{items: make(map[string]Item), now: time.Now}
	for _, it := range cfg.Items {
		b.Upsert(Item{
			Title:    it.Title,
			Content:  it.Content,
			Category: it.Category,
			Keywords: it.Keywords,
			IsActive: true,
			Source:   "config",
		})
	}
	return b
}

// Upsert stores item, assigning an ID when it has none.
func (b *Base) Upsert(item Item) Item {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.Keywords = append([]string(nil), item.Keywords...)
	b.mu.Lock()
	defer b.mu.Unlock()
	item.UpdatedAt = b.now()
	b.items[item.ID] = item
	return item
}

// SetActive toggles an item. It reports whether the item exists.
func (b *Base) SetActive(id string, active bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[id]
	if !ok {
		return false
	}
	it.IsActive = active
	it.UpdatedAt = b.now()
	b.items[id] = it
	return true
}

// Len returns the number of stored items, active or not.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// ActiveItems returns active items, newest first.
func (b *Base) ActiveItems(_ context.Context) ([]Item, error) {
	b.mu.RLock()
	out := make([]Item, 0, len(b.items))
	for _, it := range b.items {
		if it.IsActive {
			out = append(out, it)
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
