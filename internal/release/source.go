package release

import "context"

// Source lists the releases published for a single repository.
type Source interface {
	ListReleases(ctx context.Context) ([]Release, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]Release, error)

// ListReleases calls f.
func (f SourceFunc) ListReleases(ctx context.Context) ([]Release, error) {
	return f(ctx)
}
