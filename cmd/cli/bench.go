package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

type benchConfig struct {
	BaseURL     string
	Method      string
	Duration    time.Duration
	Concurrency int
	Timeout     time.Duration
	OutPath     string
}

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	PaymentMethod      string         `json:"payment_method"`
	Concurrency        int            `json:"concurrency"`
	SuccessfulRequests int            `json:"successful_requests"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	FirstError         string         `json:"first_error,omitempty"`
}

func (r benchResult) String() string {
	return fmt.Sprintf("ok=%d errors=%d avg=%.1fms p50=%.0fms p90=%.0fms p99=%.0fms throughput=%.2f orders/s",
		r.SuccessfulRequests, r.ErrorRequests, r.AvgLatencyMs, r.P50LatencyMs, r.P90LatencyMs, r.P99LatencyMs, r.ThroughputRPS)
}

type benchStats struct {
	mu           sync.Mutex
	latenciesMs  []float64
	errors       int
	statusCounts map[string]int
	firstError   string
}

func newBenchStats() *benchStats {
	return &benchStats{statusCounts: make(map[string]int)}
}

func (s *benchStats) record(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := 201
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		status = ae.Status
	case err != nil:
		status = 0
	}
	s.statusCounts[strconv.Itoa(status)]++
	if err != nil {
		s.errors++
		if s.firstError == "" {
			s.firstError = err.Error()
		}
		return
	}
	s.latenciesMs = append(s.latenciesMs, float64(latency.Microseconds())/1000)
}

func (s *benchStats) result(cfg benchConfig, elapsed time.Duration) benchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]float64(nil), s.latenciesMs...)
	sort.Float64s(sorted)

	res := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            cfg.BaseURL,
		PaymentMethod:      cfg.Method,
		Concurrency:        cfg.Concurrency,
		SuccessfulRequests: len(sorted),
		ErrorRequests:      s.errors,
		DurationSeconds:    elapsed.Seconds(),
		P50LatencyMs:       percentile(sorted, 0.50),
		P90LatencyMs:       percentile(sorted, 0.90),
		P99LatencyMs:       percentile(sorted, 0.99),
		StatusCounts:       s.statusCounts,
		FirstError:         s.firstError,
	}
	if len(sorted) > 0 {
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		res.AvgLatencyMs = sum / float64(len(sorted))
		res.MinLatencyMs = sorted[0]
		res.MaxLatencyMs = sorted[len(sorted)-1]
	}
	if elapsed > 0 {
		res.ThroughputRPS = float64(len(sorted)) / elapsed.Seconds()
	}
	return res
}

// percentile uses nearest rank over an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// runBench places orders from cfg.Concurrency customers until cfg.Duration elapses.
func runBench(ctx context.Context, cfg benchConfig) (benchResult, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	setup := newAPIClient(cfg.BaseURL, cfg.Timeout)
	productID, err := setup.firstProduct(ctx)
	if err != nil {
		return benchResult{}, err
	}

	clients := make([]*apiClient, cfg.Concurrency)
	for i := range clients {
		clients[i] = newAPIClient(cfg.BaseURL, cfg.Timeout)
		if err := clients[i].signUp(ctx); err != nil {
			return benchResult{}, err
		}
	}

	stats := newBenchStats()
	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	start := time.Now()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *apiClient) {
			defer wg.Done()
			for runCtx.Err() == nil {
				t0 := time.Now()
				_, err := c.placeOrder(runCtx, productID, cfg.Method)
				if runCtx.Err() != nil {
					return
				}
				stats.record(time.Since(t0), err)
			}
		}(c)
	}
	wg.Wait()

	res := stats.result(cfg, time.Since(start))
	if cfg.OutPath != "" {
		if err := writeResult(cfg.OutPath, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func writeResult(path string, res benchResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
