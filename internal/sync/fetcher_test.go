package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-sync-service/internal/marketplace"
)

func collect(events <-chan PageEvent) []PageEvent {
	var out []PageEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func testFetchOptions() FetchOptions {
	return FetchOptions{MaxPages: 10, ItemsPerPage: 2, PageDelay: time.Millisecond}
}

func TestFetcherStopsOnEmptyPage(t *testing.T) {
	src := &scriptedSource{pages: map[marketplace.Account][]scriptedPage{
		marketplace.AccountPrimary: {
			{records: []marketplace.RemoteRecord{record("A", 1), record("B", 2)}},
			{records: []marketplace.RemoteRecord{record("C", 3), record("D", 4)}},
		},
	}}
	f := NewFetcher(src)

	events := collect(f.Run(context.Background(), marketplace.AccountPrimary, marketplace.ResourceProducts, testFetchOptions()))

	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Page)
	assert.Equal(t, 2, events[1].Page)
}

func TestFetcherStopsOnShortPage(t *testing.T) {
	src := &scriptedSource{pages: map[marketplace.Account][]scriptedPage{
		marketplace.AccountPrimary: {
			{records: []marketplace.RemoteRecord{record("A", 1), record("B", 2)}},
			{records: []marketplace.RemoteRecord{record("C", 3)}},
		},
	}}
	f := NewFetcher(src)

	events := collect(f.Run(context.Background(), marketplace.AccountPrimary, marketplace.ResourceProducts, testFetchOptions()))

	require.Len(t, events, 2)
	assert.Equal(t, 2, src.callCount(), "short page means no further requests")
}

func TestFetcherRepeatedPageGuardTerminates(t *testing.T) {
	// Provider that ignores the page number and returns the same capped set
	// forever. Iteration must terminate within two pages.
	same := scriptedPage{records: []marketplace.RemoteRecord{record("A", 1), record("B", 2)}}
	script := make([]scriptedPage, 50)
	for i := range script {
		script[i] = same
	}
	src := &scriptedSource{pages: map[marketplace.Account][]scriptedPage{
		marketplace.AccountPrimary: script,
	}}
	f := NewFetcher(src)

	done := make(chan []PageEvent)
	go func() {
		done <- collect(f.Run(context.Background(), marketplace.AccountPrimary, marketplace.ResourceProducts, testFetchOptions()))
	}()

	select {
	case events := <-done:
		require.Len(t, events, 1, "identical content must be delivered once")
		assert.LessOrEqual(t, src.callCount(), 2)
	case <-time.After(5 * time.Second):
		t.Fatal("pagination did not terminate")
	}
}

func TestFetcherHonorsMaxPages(t *testing.T) {
	script := make([]scriptedPage, 20)
	for i := range script {
		script[i] = scriptedPage{records: []marketplace.RemoteRecord{
			record(fmt.Sprintf("p%d-a", i), 1),
			record(fmt.Sprintf("p%d-b", i), 2),
		}}
	}
	src := &scriptedSource{pages: map[marketplace.Account][]scriptedPage{
		marketplace.AccountPrimary: script,
	}}
	f := NewFetcher(src)

	opts := testFetchOptions()
	opts.MaxPages = 3
	events := collect(f.Run(context.Background(), marketplace.AccountPrimary, marketplace.ResourceProducts, opts))

	assert.Len(t, events, 3)
}

func TestFetcherSkipsFailedPageAndContinues(t *testing.T) {
	src := &scriptedSource{pages: map[marketplace.Account][]scriptedPage{
		marketplace.AccountPrimary: {
			{records: []marketplace.RemoteRecord{record("A", 1), record("B", 2)}},
			{err: &marketplace.TransientError{Status: 502}},
			{records: []marketplace.RemoteRecord{record("C", 3), record("D", 4)}},
		},
	}}
	f := NewFetcher(src)

	events := collect(f.Run(context.Background(), marketplace.AccountPrimary, marketplace.ResourceProducts, testFetchOptions()))

	require.Len(t, events, 3)
	assert.False(t, events[0].Skipped)
	assert.True(t, events[1].Skipped)
	assert.Error(t, events[1].Err)
	assert.False(t, events[2].Skipped)
	assert.Equal(t, []string{"C", "D"}, []string{events[2].Records[0].BusinessKey, events[2].Records[1].BusinessKey})
}

func TestFetcherFatalErrorClosesStream(t *testing.T) {
	src := &scriptedSource{pages: map[marketplace.Account][]scriptedPage{
		marketplace.AccountPrimary: {
			{records: []marketplace.RemoteRecord{record("A", 1), record("B", 2)}},
			{err: &marketplace.FatalError{Status: 401, Message: "bad credentials"}},
			{records: []marketplace.RemoteRecord{record("C", 3), record("D", 4)}},
		},
	}}
	f := NewFetcher(src)

	events := collect(f.Run(context.Background(), marketplace.AccountPrimary, marketplace.ResourceProducts, testFetchOptions()))

	require.Len(t, events, 2)
	assert.True(t, events[1].Fatal)
	assert.Error(t, events[1].Err)
}

func TestFetcherStopsOnCancelledContext(t *testing.T) {
	src := &scriptedSource{blocking: true}
	f := NewFetcher(src)

	ctx, cancel := context.WithCancel(context.Background())
	events := f.Run(ctx, marketplace.AccountPrimary, marketplace.ResourceProducts, testFetchOptions())
	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open, "stream must close after cancellation")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}
