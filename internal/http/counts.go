package http

import (
	"context"

	"github.com/fyrsmithlabs/patchd/internal/registry"
)

// CountFromRegistry returns the number of observations and suggested
// operations in store, or (-1, -1) when store is nil or unreadable.
func CountFromRegistry(ctx context.Context, store registry.Store) (observations int, suggestedOps int) {
	if store == nil {
		return -1, -1
	}
	reg, err := store.Read(ctx)
	if err != nil || reg == nil {
		return -1, -1
	}
	return len(reg.Observations), len(reg.SuggestedOps)
}
