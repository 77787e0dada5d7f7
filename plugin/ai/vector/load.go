package vector

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

// Supported index backends.
const (
	BackendFile     = "file"
	BackendPGVector = "pgvector"
)

// LoadOptions selects and locates the index.
type LoadOptions struct {
	Backend  string
	Path     string // directory of a file index
	Driver   store.Driver
	Embedder Embedder
}

// Load opens the configured index. On failure it returns an EmptyIndex
// together with the reason, so callers can log and continue degraded.
func Load(ctx context.Context, opts LoadOptions) (Index, error) {
	if opts.Embedder == nil {
		return EmptyIndex{}, errors.New("no embedder configured")
	}

	switch opts.Backend {
	case BackendPGVector:
		vd, ok := opts.Driver.(store.VectorDriver)
		if !ok {
			return EmptyIndex{}, errors.Errorf("driver %T does not support pgvector", opts.Driver)
		}
		idx, err := OpenPGIndex(ctx, vd, opts.Embedder)
		if err != nil {
			return EmptyIndex{}, err
		}
		return idx, nil
	case BackendFile, "":
		idx, err := OpenFileIndex(ctx, opts.Path, opts.Embedder)
		if err != nil {
			return EmptyIndex{}, err
		}
		if idx.Model() != opts.Embedder.Model() {
			return EmptyIndex{}, errors.Errorf("index built with %q, embedder uses %q", idx.Model(), opts.Embedder.Model())
		}
		return idx, nil
	default:
		return EmptyIndex{}, errors.Errorf("unknown vector backend %q", opts.Backend)
	}
}
