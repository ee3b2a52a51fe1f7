package catalog

import (
	"context"
	"iter"
	"time"
)

// Adapter turns one source-specific target into a lazy sequence of listings.
//
// A yielded error classified as KindParse marks a single skipped item and the
// sequence continues. Any other error is terminal for the call. Adapters must
// be safe to invoke concurrently with themselves and with other adapters.
type Adapter interface {
	Source() SourceCode
	Extract(ctx context.Context, target string) iter.Seq2[RawListing, error]
}

// Hasher computes hex digests used for identifier derivation.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Embedder computes semantic vectors for product text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
