// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

// Resolver is a map-backed api.Resolver and api.Notifier. Notifications are
// recorded instead of delivered unless a Deliver hook is installed.
type Resolver struct {
	mu      sync.Mutex
	links   map[api.LinkID]api.Link
	notes   []api.LinkID
	Deliver func(id api.LinkID, code api.CmdCode) error
}

var (
	_ api.Resolver = (*Resolver)(nil)
	_ api.Notifier = (*Resolver)(nil)
)

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{links: make(map[api.LinkID]api.Link)}
}

// Add makes l resolvable.
func (r *Resolver) Add(l api.Link) {
	r.mu.Lock()
	r.links[l.ID()] = l
	r.mu.Unlock()
}

// Resolve implements api.Resolver.
func (r *Resolver) Resolve(id api.LinkID) (api.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return nil, errors.New(api.ErrCodeNotFound, "link not found").WithContext("link", id.String())
	}
	return l, nil
}

// SendLinkCmd implements api.Notifier.
func (r *Resolver) SendLinkCmd(id api.LinkID, code api.CmdCode) error {
	r.mu.Lock()
	r.notes = append(r.notes, id)
	deliver := r.Deliver
	r.mu.Unlock()
	if deliver != nil {
		return deliver(id, code)
	}
	return nil
}

// Notifications returns the recorded notification targets.
func (r *Resolver) Notifications() []api.LinkID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.LinkID(nil), r.notes...)
}
