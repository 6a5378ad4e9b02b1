// Package account tracks the automation accounts campaigns can speak through.
package account

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/pkg/logger"
)

// ErrNotFound is returned for unknown account ids.
var ErrNotFound = errors.New("account: not found")

// Directory lists the accounts available to campaigns.
type Directory interface {
	List(ctx context.Context) ([]domain.Account, error)
}

// Registry is an in-memory Directory fed by configuration and status updates
// from the session manager.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

// NewRegistry seeds a registry from config. Missing status means online and
// missing role means sender.
func NewRegistry(cfgs []config.AccountConfig) *Registry {
	r := &Registry{accounts: make(map[string]domain.Account)}
	for _, c := range cfgs {
		if c.ID == "" {
			continue
		}
		a := domain.Account{
			ID:     c.ID,
			Phone:  c.Phone,
			Name:   c.Name,
			Status: domain.AccountStatus(c.Status),
			Role:   domain.AccountRole(c.Role),
		}
		if a.Status == "" {
			a.Status = domain.AccountOnline
		}
		if a.Role == "" {
			a.Role = domain.AccountRoleSender
		}
		r.accounts[a.ID] = a
	}
	return r
}

// List returns every account ordered by id.
func (r *Registry) List(_ context.Context) ([]domain.Account, error) {
	r.mu.RLock()
	out := make([]domain.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one account.
func (r *Registry) Get(id string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, ErrNotFound
	}
	return a, nil
}

// Upsert adds or replaces an account.
func (r *Registry) Upsert(a domain.Account) {
	r.mu.Lock()
	r.accounts[a.ID] = a
	r.mu.Unlock()
}

// SetStatus records a connectivity change.
func (r *Registry) SetStatus(id string, status domain.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != status {
		logger.Info("account status changed",
			"account_id", id,
			"phone", a.Phone,
			"from", string(a.Status),
			"to", string(status),
		)
	}
	a.Status = status
	r.accounts[id] = a
	return nil
}
