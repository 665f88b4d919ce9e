package pipeline

import "context"

// Store is the persistence interface for run results.
type Store interface {
	Get(ctx context.Context, id string) (*RunResult, bool, error)
	// Latest returns the most recently started run that has finished.
	Latest(ctx context.Context) (*RunResult, bool, error)
	Put(ctx context.Context, result *RunResult) error
}
