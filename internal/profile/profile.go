// Package profile resolves account addresses to display identities and
// tracks the social graph (follows, likes).
package profile

import (
	"context"
	"fmt"
	"sync"

	"artmarket/internal/markerrors"
	"artmarket/internal/model"
)

// Resolver maps an account address to a display name. Implementations
// return ok=false for unknown accounts; callers fall back to the shortened
// address form.
type Resolver interface {
	DisplayName(ctx context.Context, address string) (string, bool)
}

// ResolveName returns the display name for an address, or its shortened
// form when no profile exists.
func ResolveName(ctx context.Context, r Resolver, address string) string {
	if r != nil {
		if name, ok := r.DisplayName(ctx, address); ok && name != "" {
			return name
		}
	}
	return model.ShortAddress(address)
}

// MemoryResolver is a mutex-map Resolver, useful as the default backing
// and in tests.
type MemoryResolver struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{names: make(map[string]string)}
}

func (r *MemoryResolver) SetDisplayName(address, name string) {
	r.mu.Lock()
	r.names[address] = name
	r.mu.Unlock()
}

func (r *MemoryResolver) DisplayName(_ context.Context, address string) (string, bool) {
	r.mu.RLock()
	name, ok := r.names[address]
	r.mu.RUnlock()
	return name, ok
}

// Graph tracks follower and like relations in memory.
type Graph struct {
	mu        sync.RWMutex
	following map[string]map[string]struct{}
	likes     map[string]map[uint64]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		following: make(map[string]map[string]struct{}),
		likes:     make(map[string]map[uint64]struct{}),
	}
}

// Follow records that follower follows target. Re-following is a no-op;
// the second return reports whether the relation is new.
func (g *Graph) Follow(follower, target string) (bool, error) {
	if follower == "" || target == "" {
		return false, fmt.Errorf("%w: follower and target are required", markerrors.ErrInvalidInput)
	}
	if follower == target {
		return false, fmt.Errorf("%w: cannot follow yourself", markerrors.ErrInvalidInput)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.following[follower]
	if !ok {
		set = make(map[string]struct{})
		g.following[follower] = set
	}
	if _, exists := set[target]; exists {
		return false, nil
	}
	set[target] = struct{}{}
	return true, nil
}

// Unfollow removes the relation if present.
func (g *Graph) Unfollow(follower, target string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if set, ok := g.following[follower]; ok {
		delete(set, target)
	}
}

// IsFollowing reports whether follower follows target.
func (g *Graph) IsFollowing(follower, target string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.following[follower][target]
	return ok
}

// Following returns the accounts a user follows.
func (g *Graph) Following(follower string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.following[follower]))
	for target := range g.following[follower] {
		out = append(out, target)
	}
	return out
}

// Like records that the user likes a token; the return reports whether the
// like is new.
func (g *Graph) Like(user string, tokenID uint64) (bool, error) {
	if user == "" {
		return false, fmt.Errorf("%w: user is required", markerrors.ErrInvalidInput)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.likes[user]
	if !ok {
		set = make(map[uint64]struct{})
		g.likes[user] = set
	}
	if _, exists := set[tokenID]; exists {
		return false, nil
	}
	set[tokenID] = struct{}{}
	return true, nil
}

// Unlike removes a like if present.
func (g *Graph) Unlike(user string, tokenID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if set, ok := g.likes[user]; ok {
		delete(set, tokenID)
	}
}

// Likes returns the token ids a user has liked.
func (g *Graph) Likes(user string) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]uint64, 0, len(g.likes[user]))
	for id := range g.likes[user] {
		out = append(out, id)
	}
	return out
}
