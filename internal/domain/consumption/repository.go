package consumption

import (
	"context"

	"costtrend/pkg/errors"
)

// PagedSource is the billing provider collaborator. Implementations may be slow and
// rate limited; transient failures must be returned wrapped in errors.ErrUpstreamUnavailable.
type PagedSource interface {
	// FetchPage returns the page identified by pageToken ("" for the first page)
	FetchPage(ctx context.Context, q Query, pageToken string) (*Page, error)
}

// Writer persists records for later querying (ingestion side of the provider)
type Writer interface {
	Store(ctx context.Context, records ...*Record) error
}

// ProgressFunc receives the number of pages fetched so far and the estimated total
type ProgressFunc func(done, total int)

// maxPages guards against a provider that never returns an empty NextToken
const maxPages = 100000

// Collect drains every page of q from src, reporting progress after each page
func Collect(ctx context.Context, src PagedSource, q Query, progress ProgressFunc) ([]*Record, error) {
	var (
		records []*Record
		token   string
	)

	for pages := 0; pages < maxPages; pages++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := src.FetchPage(ctx, q, token)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch consumption page %d", pages+1)
		}

		records = append(records, page.Records...)

		if progress != nil {
			total := page.EstimatedPages
			if total < pages+1 {
				total = pages + 1
			}
			if page.NextToken != "" && total == pages+1 {
				total++
			}
			progress(pages+1, total)
		}

		if page.NextToken == "" {
			return records, nil
		}
		token = page.NextToken
	}

	return nil, errors.Wrapf(errors.ErrUpstreamUnavailable, "provider returned more than %d pages", maxPages)
}
