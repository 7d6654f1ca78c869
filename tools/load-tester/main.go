package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type counters struct {
	created, duplicate, rejected, failed atomic.Int64
}

func main() {
	targetURL := flag.String("url", "http://localhost:3000/v1/events", "Target URL for ingestion")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 500, "Requests per second limit")
	dupRatio := flag.Float64("dup-ratio", 0.1, "Fraction of requests that reuse an id from the shared pool")
	poolSize := flag.Int("id-pool", 100, "Number of ids shared by duplicate requests")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	log.Info("starting load test", "url", *targetURL, "concurrency", *concurrency, "duration", *duration, "rps", *rps, "dup_ratio", *dupRatio)

	shared := make([]string, *poolSize)
	for i := range shared {
		shared[i] = uuid.NewString()
	}

	var c counters
	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), *concurrency)
	client := &http.Client{Timeout: 5 * time.Second}

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				id := uuid.NewString()
				if len(shared) > 0 && rand.Float64() < *dupRatio {
					id = shared[rand.Intn(len(shared))]
				}
				send(ctx, client, *targetURL, id, workerID, &c)
			}
		}(i)
	}

	wg.Wait()

	total := c.created.Load() + c.duplicate.Load() + c.rejected.Load() + c.failed.Load()
	log.Info("load test finished",
		"total", total,
		"created", c.created.Load(),
		"duplicate", c.duplicate.Load(),
		"rejected", c.rejected.Load(),
		"failed", c.failed.Load(),
		"actual_rps", float64(total)/duration.Seconds(),
	)
}

func send(ctx context.Context, client *http.Client, url, id string, workerID int, c *counters) {
	body, _ := json.Marshal(map[string]any{
		"event_id":    id,
		"source":      "load-tester",
		"event_time":  time.Now().UTC().Format(time.RFC3339Nano),
		"entity_type": "cell",
		"entity_id":   "cell-lt-" + string(rune('a'+workerID%26)),
		"metrics": map[string]float64{
			"dl_prb_util_pct": rand.Float64() * 100,
			"ul_prb_util_pct": rand.Float64() * 100,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.failed.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.failed.Add(1)
		}
		return
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
		c.created.Add(1)
	case resp.StatusCode == http.StatusConflict:
		c.duplicate.Add(1)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.rejected.Add(1)
	default:
		c.failed.Add(1)
	}
}
