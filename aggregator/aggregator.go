// Package aggregator drives the refresh cycle: fetch every configured source
// in parallel, fold the results into the store in one atomic merge+trim, and
// repeat on a fixed interval.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/SticksScripts/news/fetcher"
	"github.com/SticksScripts/news/models"
	"github.com/SticksScripts/news/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Add Prometheus metrics
var (
	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "news_fetch_attempts_total",
		Help: "The total number of per-source fetch attempts",
	}, []string{"source"})

	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "news_fetch_errors_total",
		Help: "The total number of per-source fetch failures",
	}, []string{"source"})

	itemsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "news_items_fetched_total",
		Help: "The total number of items fetched per source",
	}, []string{"source"})

	itemsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "news_items_merged_total",
		Help: "The total number of items accepted by merges",
	})

	itemsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "news_items_evicted_total",
		Help: "The total number of items evicted by retention trimming",
	})

	storeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "news_store_items",
		Help: "The current number of items in the store",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "news_refresh_cycle_duration_seconds",
		Help:    "Duration of full refresh cycles",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // Start at 50ms, double each bucket, 10 buckets
	})
)

// Publisher receives every item a refresh cycle accepts, e.g. to fan it out
// to SSE clients.
type Publisher interface {
	BroadcastItem(event models.ItemEvent)
}

type Config struct {

	// The store refresh cycles write into
	Store *store.Store

	// The fetcher used for every source
	Fetcher *fetcher.Fetcher

	// The source registry, immutable for the aggregator's lifetime
	Sources []fetcher.Source

	// Time between refresh cycles
	Interval time.Duration

	// Optional sink for accepted items
	Publisher Publisher
}

type Aggregator struct {
	store     *store.Store
	fetcher   *fetcher.Fetcher
	sources   []fetcher.Source
	interval  time.Duration
	publisher Publisher
}

func New(config *Config) *Aggregator {
	return &Aggregator{
		store:     config.Store,
		fetcher:   config.Fetcher,
		sources:   config.Sources,
		interval:  config.Interval,
		publisher: config.Publisher,
	}
}

// Start runs an immediate refresh cycle and then one per interval until the
// context is cancelled. Cycles run inline in this goroutine, so a new tick
// can never start a cycle while the previous one is still in flight; ticks
// that fire mid-cycle are dropped by the ticker.
func (a *Aggregator) Start(ctx context.Context) {
	a.RunCycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping aggregator")
			return
		case <-ticker.C:
			a.RunCycle(ctx)
		}
	}
}

// RunCycle performs one fetch-all, merge-all, trim pass. Per-source failures
// are logged and surface as zero items for that source; they never abort the
// cycle or reach the query path.
func (a *Aggregator) RunCycle(ctx context.Context) {
	start := time.Now()

	results := make([]fetcher.Result, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src fetcher.Source) {
			defer wg.Done()
			fetchAttempts.WithLabelValues(src.Name).Inc()
			res := a.fetcher.Fetch(ctx, src)
			if res.Err != nil {
				fetchErrors.WithLabelValues(src.Name).Inc()
			} else {
				itemsFetched.WithLabelValues(src.Name).Add(float64(len(res.Items)))
			}
			results[i] = res
		}(i, src)
	}
	wg.Wait()

	batches := lo.Map(results, func(r fetcher.Result, _ int) []models.Item {
		return r.Items
	})
	accepted, evicted := a.store.Apply(batches...)

	if a.publisher != nil {
		for _, item := range accepted {
			a.publisher.BroadcastItem(models.ItemEvent{Item: item})
		}
	}

	itemsMerged.Add(float64(len(accepted)))
	itemsEvicted.Add(float64(evicted))
	storeSize.Set(float64(a.store.Len()))
	cycleDuration.Observe(time.Since(start).Seconds())

	failed := lo.CountBy(results, func(r fetcher.Result) bool {
		return r.Err != nil
	})
	log.WithFields(log.Fields{
		"sources":  len(a.sources),
		"failed":   failed,
		"accepted": len(accepted),
		"evicted":  evicted,
		"store":    a.store.Len(),
		"duration": time.Since(start),
	}).Info("Refresh cycle complete")
}
