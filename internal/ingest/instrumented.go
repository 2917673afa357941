package ingest

import (
	"context"

	"github.com/mfreitas/tlc_ingest/internal/corpus"
	"github.com/mfreitas/tlc_ingest/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry: a span per retrieval
// plus attempt, byte and duration instruments.
type InstrumentedFetcher struct {
	next Fetcher
	tel  *telemetry.Telemetry
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(next Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{next: next, tel: tel}
}

// Fetch delegates to the wrapped fetcher under instrumentation.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, d corpus.Descriptor) (FetchInfo, error) {
	var info FetchInfo

	var err error

	instrumentedErr := f.tel.InstrumentFetch(ctx, string(d.Service), func(ctx context.Context) error {
		info, err = f.next.Fetch(ctx, d)

		return err
	})

	f.tel.RecordFetched(ctx, string(d.Service), info.Attempts, info.Bytes)

	if instrumentedErr != nil {
		return info, instrumentedErr
	}

	return info, nil
}
