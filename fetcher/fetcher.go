// Package fetcher retrieves one source's syndication feed over HTTP and
// normalizes its entries into canonical items. Every failure is confined to
// the source it happened on: callers always get a Result, never a panic or a
// cross-source abort.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SticksScripts/news/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

const (
	userAgent = "news-aggregator (+https://github.com/SticksScripts/news)"

	// Transient fetch errors are retried a couple of times inside the
	// per-source deadline before the cycle gives up on the source.
	maxRetries = 2
)

// Source is one entry of the source registry: a name and its feed endpoint.
type Source struct {
	Name string
	URL  string
}

// Result is the per-source outcome of one refresh cycle. Err set means the
// source contributed zero items this cycle.
type Result struct {
	Source string
	Items  []models.Item
	Err    error
}

type Fetcher struct {
	client  *http.Client
	timeout time.Duration

	// Wall clock used when an entry has no parseable timestamp, swappable in tests
	now func() time.Time
}

func New(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		now:     time.Now,
	}
}

// Fetch retrieves and normalizes one source's feed. Network errors and 5xx
// responses are retried with exponential backoff; malformed documents and
// 4xx responses are not worth retrying within a cycle.
func (f *Fetcher) Fetch(ctx context.Context, src Source) Result {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var feed *gofeed.Feed
	operation := func() error {
		var err error
		feed, err = f.fetchOnce(ctx, src.URL)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)); err != nil {
		log.WithFields(log.Fields{
			"source": src.Name,
			"url":    src.URL,
			"error":  err,
		}).Error("Fetching feed failed")
		return Result{Source: src.Name, Err: err}
	}

	items := f.normalize(src.Name, feed)
	log.WithFields(log.Fields{
		"source": src.Name,
		"items":  len(items),
	}).Debug("Fetched feed")

	return Result{Source: src.Name, Items: items}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, backoff.Permanent(fmt.Errorf("source returned status %d", resp.StatusCode))
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parsing feed: %w", err))
	}
	return feed, nil
}

func (f *Fetcher) normalize(source string, feed *gofeed.Feed) []models.Item {
	items := make([]models.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		items = append(items, models.Item{
			Identity:  identityFor(source, entry),
			Source:    source,
			Title:     strings.TrimSpace(entry.Title),
			Link:      strings.TrimSpace(entry.Link),
			Summary:   entry.Description,
			Published: f.publishedFor(source, entry),
		})
	}
	return items
}

// identityFor picks the dedup key: entry GUID first, permalink second. An
// entry with neither cannot be reliably deduplicated; a source-qualified
// title is the closest stable key available.
func identityFor(source string, entry *gofeed.Item) string {
	if guid := strings.TrimSpace(entry.GUID); guid != "" {
		return guid
	}
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	log.WithFields(log.Fields{
		"source": source,
		"title":  entry.Title,
	}).Debug("Entry has no GUID or permalink, falling back to source-qualified title")
	return source + ":" + strings.TrimSpace(entry.Title)
}

// publishedFor normalizes the entry timestamp to UTC, preferring the
// published field over updated. A missing or unparseable timestamp is not an
// error: the fetch time stands in for it.
func (f *Fetcher) publishedFor(source string, entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	log.WithFields(log.Fields{
		"source": source,
		"title":  entry.Title,
	}).Warn("Entry has no parseable timestamp, substituting fetch time")
	return f.now().UTC()
}
