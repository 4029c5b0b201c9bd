// Package resource defines the Resource Fetcher contract: asynchronous,
// bulk retrieval of external byte blobs referenced by a workflow (e.g. Wasm
// modules), plus a cache-aside implementation in front of it.
package resource

import "context"

// Resource is an external byte blob referenced by one or more instructions.
// Identity is its URI; equality is by URI.
type Resource struct {
	URI string
}

// Fetcher retrieves a batch of resources asynchronously. It fails
// atomically: either all resources are returned or the plan fails.
type Fetcher interface {
	Fetch(ctx context.Context, resources []Resource) (map[Resource][]byte, error)
}

// FuncFetcher adapts a plain function to the Fetcher interface, for tests
// and for wiring a fetch_fn closure directly.
type FuncFetcher func(ctx context.Context, resources []Resource) (map[Resource][]byte, error)

// Fetch implements Fetcher.
func (f FuncFetcher) Fetch(ctx context.Context, resources []Resource) (map[Resource][]byte, error) {
	return f(ctx, resources)
}
