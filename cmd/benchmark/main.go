package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	members     int
	prefix      string
	amount      int64
	replayRatio float64
)

var (
	totalRequests uint64
	success200    uint64 // idempotent replays
	success201    uint64 // created
	conflicts     uint64 // 409 and 503 after the server exhausted its retries
	failOther     uint64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Drive concurrent investments against the ledger API",
		RunE:  run,
	}
	flags := rootCmd.Flags()
	flags.StringVar(&targetURL, "url", "http://localhost:8080", "API base URL")
	flags.IntVar(&concurrency, "workers", 10, "number of concurrent workers")
	flags.DurationVar(&duration, "duration", 30*time.Second, "test duration")
	flags.StringVar(&workload, "workload", "uniform", "workload type: uniform | hotspot")
	flags.IntVar(&members, "members", 1093, "number of seeded members")
	flags.StringVar(&prefix, "prefix", "M", "seeded member id prefix")
	flags.Int64Var(&amount, "amount", 10000, "investment amount in cents")
	flags.Float64Var(&replayRatio, "replay", 0, "fraction of requests that reuse a previous idempotency key")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	if workload != "uniform" && workload != "hotspot" {
		return fmt.Errorf("unknown workload %q", workload)
	}
	if members < 1 {
		return fmt.Errorf("members must be positive")
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting benchmark",
		zap.String("workload", workload),
		zap.Int("workers", concurrency),
		zap.Duration("duration", duration),
	)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, rand.New(rand.NewSource(start.UnixNano()+int64(i))))
	}
	wg.Wait()
	return printResults(time.Since(start))
}

type investment struct {
	memberID string
	key      string
}

func worker(wg *sync.WaitGroup, start time.Time, rng *rand.Rand) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	var last *investment

	for time.Since(start) < duration {
		inv := investment{memberID: pickMember(rng), key: uuid.NewString()}
		if last != nil && rng.Float64() < replayRatio {
			inv = *last
		}

		body, _ := json.Marshal(map[string]interface{}{
			"member_id": inv.memberID,
			"amount":    amount,
		})
		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/investments", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", inv.key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
			last = &inv
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusConflict, http.StatusServiceUnavailable:
			atomic.AddUint64(&conflicts, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pickMember assumes ids laid out by the seeder. The hotspot workload sends
// 90% of traffic to the first few members, which all share the root's
// ancestor chain and so contend on the same member and wallet rows.
func pickMember(rng *rand.Rand) string {
	n := members
	if workload == "hotspot" && rng.Float32() < 0.90 {
		n = min(members, 4)
	}
	return fmt.Sprintf("%s%06d", prefix, rng.Intn(n))
}

func printResults(d time.Duration) error {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&conflicts)
	fErr := atomic.LoadUint64(&failOther)

	var abortRate float64
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}
	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"success_created": s201,
		"success_replay":  s200,
		"aborts_conflict": f409,
		"abort_rate_pct":  abortRate,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	file, err := os.Create(fmt.Sprintf("results_%s.json", workload))
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
