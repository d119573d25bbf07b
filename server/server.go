package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/SticksScripts/news/fetcher"
	"github.com/SticksScripts/news/models"
	"github.com/SticksScripts/news/store"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// Limits above this are clamped; a misbehaving client cannot ask the store
// to sort and serialize unbounded output.
const maxLimit = 1000

type ServerConfig struct {

	// The store the query endpoints read from
	Store *store.Store

	// Broadcast channels to pass fresh items to SSE clients
	Broadcaster *Broadcaster

	// The configured source registry, surfaced read-only
	Sources []fetcher.Source

	// Items returned by /api/items when no limit is given
	DefaultLimit int
}

// Make it sync
type Broadcaster struct {
	sync.RWMutex
	itemClients map[string]chan models.ItemEvent
}

// Constructor
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		itemClients: make(map[string]chan models.ItemEvent),
	}
}

func (b *Broadcaster) BroadcastItem(event models.ItemEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.itemClients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping item for client: %v", id)
		}
	}
}

// Function to add a client to the broadcaster
func (b *Broadcaster) AddClient(key string, itemClient chan models.ItemEvent) {
	b.Lock()
	defer b.Unlock()
	b.itemClients[key] = itemClient
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.itemClients),
	}).Info("Adding client to broadcaster")
}

// Function to remove a client from the broadcaster
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.itemClients[key]; ok { // Check if the client exists
		close(client)              // Safely close the channel
		delete(b.itemClients, key) // Remove from the map
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.itemClients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.itemClients {
		close(client)
		delete(b.itemClients, key)
	}
}

// Returns a fiber.App instance to be used as the HTTP read API for the
// aggregated store
func Server(config *ServerConfig) *fiber.App {

	bc := config.Broadcaster

	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		// start timer
		start := time.Now()

		// next routes
		err := c.Next()

		// stop timer
		stop := time.Now()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Cache-Control",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"items":  config.Store.Len(),
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// The freshest items, published descending. An oversized or unparseable
	// limit is not an error: it falls back to the default or the cap.
	app.Get("/api/items", func(c *fiber.Ctx) error {
		limit := config.DefaultLimit
		if raw := c.Query("limit", ""); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		if limit > maxLimit {
			limit = maxLimit
		}

		items := config.Store.Latest(limit)

		log.WithFields(log.Fields{
			"limit": limit,
			"count": len(items),
		}).Debug("Get items")

		return c.JSON(models.ItemsResponse{
			Items: items,
			Count: len(items),
		})
	})

	app.Get("/api/sources", func(c *fiber.Ctx) error {
		sources := lo.Map(config.Sources, func(src fetcher.Source, _ int) models.SourceInfo {
			return models.SourceInfo{Name: src.Name, URL: src.URL}
		})
		return c.JSON(sources)
	})

	app.Delete("/api/items/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/api/items/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		sseItemChannel := make(chan models.ItemEvent, 10) // Buffered channel
		aliveChan := time.NewTicker(15 * time.Second)

		defer aliveChan.Stop()

		// Register the client
		bc.AddClient(key, sseItemChannel)

		// Cleanup function
		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			// Send initial event with client key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			// Start streaming loop
			for {
				select {
				case <-aliveChan.C:
					// Send keep-alive pings
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-sseItemChannel:
					if !ok {
						log.Warnf("Item channel closed for client %s", key)
						return
					}
					jsonItem, err := json.Marshal(event.Item)
					if err != nil {
						log.Errorf("Error marshalling item for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: item\ndata: %s\n\n", jsonItem); err != nil {
						log.Warnf("Failed to send item event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush item event for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}
