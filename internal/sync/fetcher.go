package sync

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketplace-sync-service/internal/logger"
	"marketplace-sync-service/internal/marketplace"
)

// PageSource is what the fetcher pulls pages from. Satisfied by
// *marketplace.Client; tests substitute scripted sources.
type PageSource interface {
	FetchPage(ctx context.Context, account marketplace.Account, resource marketplace.ResourceType, page, pageSize int, filters map[string]string) (*marketplace.PageResult, error)
}

// PageEvent is one element of the fetch stream. Exactly one of the three
// shapes occurs: a page of records, a skipped page (Skipped with Err), or a
// fatal failure (Fatal with Err) which is always the last event.
type PageEvent struct {
	Page    int
	Records []marketplace.RemoteRecord
	Skipped bool
	Fatal   bool
	Err     error
}

type FetchOptions struct {
	MaxPages     int
	ItemsPerPage int
	PageDelay    time.Duration
	Filters      map[string]string
}

type Fetcher struct {
	source PageSource
}

func NewFetcher(source PageSource) *Fetcher {
	return &Fetcher{source: source}
}

// Run streams pages for one account in ascending page order until the page
// cap, an empty page, a repeated page, the last short page, or cancellation.
// A page whose retries are exhausted is reported as skipped and iteration
// continues; a fatal error closes the stream.
//
// The repeated-page guard exists because the marketplace has been observed
// returning the same capped result set for every page number on some
// accounts; without it pagination never terminates.
func (f *Fetcher) Run(ctx context.Context, account marketplace.Account, resource marketplace.ResourceType, opts FetchOptions) <-chan PageEvent {
	events := make(chan PageEvent)

	go func() {
		defer close(events)

		var prevFingerprint string
		for page := 1; page <= opts.MaxPages; page++ {
			if page > 1 && opts.PageDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(opts.PageDelay):
				}
			}

			result, err := f.source.FetchPage(ctx, account, resource, page, opts.ItemsPerPage, opts.Filters)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				var fatal *marketplace.FatalError
				if errors.As(err, &fatal) {
					logger.Log.Error("Aborting account fetch",
						zap.String("account", string(account)),
						zap.Int("page", page),
						zap.Error(err),
					)
					send(ctx, events, PageEvent{Page: page, Fatal: true, Err: err})
					return
				}
				logger.Log.Warn("Skipping page after exhausted retries",
					zap.String("account", string(account)),
					zap.Int("page", page),
					zap.Error(err),
				)
				if !send(ctx, events, PageEvent{Page: page, Skipped: true, Err: err}) {
					return
				}
				continue
			}

			if len(result.Records) == 0 {
				return
			}

			fingerprint := pageFingerprint(result.Records)
			if fingerprint == prevFingerprint {
				logger.Log.Warn("Repeated page content, stopping pagination",
					zap.String("account", string(account)),
					zap.Int("page", page),
				)
				return
			}
			prevFingerprint = fingerprint

			if !send(ctx, events, PageEvent{Page: page, Records: result.Records}) {
				return
			}
			if !result.HasMore {
				return
			}
		}
	}()

	return events
}

func send(ctx context.Context, events chan<- PageEvent, ev PageEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// pageFingerprint hashes the business keys of a page. Two consecutive pages
// with the same fingerprint mean the provider is ignoring the page number.
func pageFingerprint(records []marketplace.RemoteRecord) string {
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.BusinessKey)
	}
	sum := sha256.Sum256([]byte(strings.Join(keys, "\x00")))
	return fmt.Sprintf("%x", sum)
}
