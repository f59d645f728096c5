package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/thriftpay/internal/domain"
	"github.com/spf13/cobra"
)

type benchCounters struct {
	total     atomic.Uint64
	ok        atomic.Uint64 // 200: settled or replayed
	pending   atomic.Uint64 // 202
	declined  atomic.Uint64 // 400
	limited   atomic.Uint64 // 429
	gateway   atomic.Uint64 // 502
	failOther atomic.Uint64
}

func benchCmd() *cobra.Command {
	var (
		targetURL   string
		reference   string
		concurrency int
		duration    time.Duration
		output      string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Hammer verify for one reference and check it credited once",
		Long: `Bench runs concurrent workers that POST /payments/{reference}/verify
for --duration, then reads the payment back. Every 200 after the first must be
a replay; the report shows the credited amount next to the request counts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reference == "" {
				return fmt.Errorf("--reference is required")
			}
			targetURL = strings.TrimRight(targetURL, "/")
			fmt.Fprintf(os.Stderr, "Starting benchmark: %s | Workers: %d | Duration: %s\n", reference, concurrency, duration)

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()

			var c benchCounters
			start := time.Now()
			var wg sync.WaitGroup
			for i := 0; i < concurrency; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					benchWorker(ctx, targetURL, reference, &c)
				}()
			}
			wg.Wait()
			elapsed := time.Since(start)

			payment, err := fetchPayment(cmd.Context(), targetURL, reference)
			if err != nil {
				return err
			}
			return writeBenchResults(output, reference, elapsed, &c, payment)
		},
	}

	cmd.Flags().StringVar(&targetURL, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&reference, "reference", "", "payment reference to verify")
	cmd.Flags().IntVar(&concurrency, "workers", 10, "number of concurrent workers")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "test duration")
	cmd.Flags().StringVarP(&output, "output", "o", "", "also write the JSON report to this file")
	return cmd
}

func benchWorker(ctx context.Context, baseURL, reference string, c *benchCounters) {
	client := &http.Client{Timeout: 5 * time.Second}
	url := baseURL + "/payments/" + reference + "/verify"

	for ctx.Err() == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			c.failOther.Add(1)
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				c.failOther.Add(1)
			}
			continue
		}
		resp.Body.Close()

		c.total.Add(1)
		switch resp.StatusCode {
		case http.StatusOK:
			c.ok.Add(1)
		case http.StatusAccepted:
			c.pending.Add(1)
		case http.StatusBadRequest:
			c.declined.Add(1)
		case http.StatusTooManyRequests:
			c.limited.Add(1)
		case http.StatusBadGateway:
			c.gateway.Add(1)
		default:
			c.failOther.Add(1)
		}
	}
}

func fetchPayment(ctx context.Context, baseURL, reference string) (*domain.PendingPayment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/payments/"+reference, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch payment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch payment: http status %d", resp.StatusCode)
	}
	var p domain.PendingPayment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	return &p, nil
}

func writeBenchResults(output, reference string, d time.Duration, c *benchCounters, p *domain.PendingPayment) error {
	total := c.total.Load()
	results := map[string]any{
		"reference":       reference,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_rps":  float64(total) / d.Seconds(),
		"ok":              c.ok.Load(),
		"still_pending":   c.pending.Load(),
		"declined":        c.declined.Load(),
		"rate_limited":    c.limited.Load(),
		"gateway_errors":  c.gateway.Load(),
		"errors":          c.failOther.Load(),
		"payment_status":  p.Status,
		"credited_amount": p.CreditedAmount,
		"fee_deducted":    p.FeeDeducted,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	if output == "" {
		return nil
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(results)
}
