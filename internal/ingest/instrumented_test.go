package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfreitas/tlc_ingest/internal/corpus"
	"github.com/mfreitas/tlc_ingest/internal/telemetry"
)

func TestInstrumentedFetcherPassthrough(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	d := corpus.Descriptor{Service: corpus.ServiceYellow, Year: 2023, Month: 1}

	next := FetcherFunc(func(ctx context.Context, got corpus.Descriptor) (FetchInfo, error) {
		assert.Equal(t, d, got)

		return FetchInfo{Bytes: 9, Attempts: 2}, nil
	})

	info, err := NewInstrumentedFetcher(next, tel).Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Bytes)
	assert.Equal(t, 2, info.Attempts)
}

func TestInstrumentedFetcherKeepsErrorType(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	want := &NotFoundError{URL: "u", StatusCode: 404}
	next := FetcherFunc(func(ctx context.Context, d corpus.Descriptor) (FetchInfo, error) {
		return FetchInfo{Attempts: 1}, want
	})

	_, err = NewInstrumentedFetcher(next, tel).Fetch(context.Background(), corpus.Descriptor{
		Service: corpus.ServiceGreen, Year: 2023, Month: 2,
	})
	require.Error(t, err)

	var notFound *NotFoundError
	assert.True(t, errors.As(err, &notFound), "instrumentation must not mask the error type")
}
