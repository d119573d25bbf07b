package aggregator_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SticksScripts/news/aggregator"
	"github.com/SticksScripts/news/fetcher"
	"github.com/SticksScripts/news/models"
	"github.com/SticksScripts/news/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedServer(t *testing.T, items string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>test</title>%s</channel></rss>`, items)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func rssItem(guid string, published time.Time) string {
	return fmt.Sprintf(
		`<item><title>%s</title><link>https://example.com/%s</link><guid>%s</guid><pubDate>%s</pubDate></item>`,
		guid, guid, guid, published.Format(time.RFC1123Z))
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.ItemEvent
}

func (p *capturePublisher) BroadcastItem(event models.ItemEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestRunCycleMergesAllSources(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srvA := feedServer(t, rssItem("a1", base)+rssItem("a2", base.Add(time.Minute)))
	srvB := feedServer(t, rssItem("b1", base.Add(2*time.Minute)))

	st := store.New(100)
	pub := &capturePublisher{}
	agg := aggregator.New(&aggregator.Config{
		Store:   st,
		Fetcher: fetcher.New(5 * time.Second),
		Sources: []fetcher.Source{
			{Name: "alpha", URL: srvA.URL},
			{Name: "beta", URL: srvB.URL},
		},
		Interval:  time.Minute,
		Publisher: pub,
	})

	agg.RunCycle(context.Background())

	assert.Equal(t, 3, st.Len())
	assert.Equal(t, 3, pub.count())

	items := st.Latest(10)
	require.Len(t, items, 3)
	assert.Equal(t, "b1", items[0].Identity)
}

func TestRunCycleFaultIsolation(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	good := feedServer(t, rssItem("good1", base))
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(bad.Close)

	st := store.New(100)
	agg := aggregator.New(&aggregator.Config{
		Store:   st,
		Fetcher: fetcher.New(5 * time.Second),
		Sources: []fetcher.Source{
			{Name: "bad", URL: bad.URL},
			{Name: "good", URL: good.URL},
		},
		Interval: time.Minute,
	})

	agg.RunCycle(context.Background())

	items := st.Latest(10)
	require.Len(t, items, 1)
	assert.Equal(t, "good1", items[0].Identity)
}

func TestRunCycleAllSourcesFailing(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// First cycle fills the store, then the source goes away. The stale
	// store from the prior cycle must survive untouched.
	srv := feedServer(t, rssItem("only", base))

	st := store.New(100)
	agg := aggregator.New(&aggregator.Config{
		Store:    st,
		Fetcher:  fetcher.New(2 * time.Second),
		Sources:  []fetcher.Source{{Name: "only", URL: srv.URL}},
		Interval: time.Minute,
	})

	agg.RunCycle(context.Background())
	require.Equal(t, 1, st.Len())

	srv.Close()
	agg.RunCycle(context.Background())

	items := st.Latest(10)
	require.Len(t, items, 1)
	assert.Equal(t, "only", items[0].Identity)
}

func TestRunCycleTrimsOnceAfterAllMerges(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := feedServer(t,
		rssItem("t1", base)+
			rssItem("t2", base.Add(time.Hour))+
			rssItem("t3", base.Add(2*time.Hour)))

	st := store.New(2)
	agg := aggregator.New(&aggregator.Config{
		Store:    st,
		Fetcher:  fetcher.New(5 * time.Second),
		Sources:  []fetcher.Source{{Name: "big", URL: srv.URL}},
		Interval: time.Minute,
	})

	agg.RunCycle(context.Background())

	items := st.Latest(10)
	require.Len(t, items, 2)
	assert.Equal(t, "t3", items[0].Identity)
	assert.Equal(t, "t2", items[1].Identity)
}

func TestRunCycleIdempotent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := feedServer(t, rssItem("x", base)+rssItem("y", base.Add(time.Minute)))

	st := store.New(100)
	pub := &capturePublisher{}
	agg := aggregator.New(&aggregator.Config{
		Store:     st,
		Fetcher:   fetcher.New(5 * time.Second),
		Sources:   []fetcher.Source{{Name: "stable", URL: srv.URL}},
		Interval:  time.Minute,
		Publisher: pub,
	})

	agg.RunCycle(context.Background())
	first := st.Latest(10)

	agg.RunCycle(context.Background())
	second := st.Latest(10)

	assert.Equal(t, first, second)
	// Unchanged items are not re-broadcast
	assert.Equal(t, 2, pub.count())
}

func TestStartRunsOnIntervalUntilCancelled(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>test</title></channel></rss>`)
	}))
	t.Cleanup(srv.Close)

	agg := aggregator.New(&aggregator.Config{
		Store:    store.New(10),
		Fetcher:  fetcher.New(time.Second),
		Sources:  []fetcher.Source{{Name: "ticking", URL: srv.URL}},
		Interval: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Start(ctx)
		close(done)
	}()

	// Immediate cycle plus at least one tick
	assert.Eventually(t, func() bool {
		return requests.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("aggregator did not stop after context cancellation")
	}
}
