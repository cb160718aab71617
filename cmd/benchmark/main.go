package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	delivered     uint64 // success responses
	denied        uint64 // insufficient credit / cooldown denials
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "balance", "Workload type: balance | lookup | hotspot")
}

type command struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name"`
	Args   []string `json:"args,omitempty"`
}

type response struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 35 * time.Second}

	for time.Since(start) < duration {
		cmd := nextCommand()
		body, _ := json.Marshal(cmd)

		resp, err := client.Post(targetURL+"/api/v1/commands", "application/json", bytes.NewReader(body))
		atomic.AddUint64(&totalRequests, 1)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		var out response
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&out) != nil {
			atomic.AddUint64(&failOther, 1)
			resp.Body.Close()
			continue
		}
		resp.Body.Close()

		if out.Success {
			atomic.AddUint64(&delivered, 1)
		} else {
			atomic.AddUint64(&denied, 1)
		}
	}
}

// nextCommand picks a user and command per the configured workload. The
// hotspot mode hammers a single account's balance to stress the
// per-account lock.
func nextCommand() command {
	switch workload {
	case "lookup":
		uid := fmt.Sprintf("seed-%04d", rand.Intn(1000))
		return command{UserID: uid, Name: "lookup", Args: []string{"KL70C1679"}}
	case "hotspot":
		return command{UserID: "seed-0000", Name: "lookup", Args: []string{"KL70C1679"}}
	default:
		uid := fmt.Sprintf("seed-%04d", rand.Intn(1000))
		return command{UserID: uid, Name: "balance"}
	}
}

func printResults(elapsed time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	fmt.Println("\n--- Benchmark Results ---")
	fmt.Printf("Elapsed:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Requests:    %d (%.1f req/s)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("Succeeded:   %d\n", atomic.LoadUint64(&delivered))
	fmt.Printf("Denied:      %d\n", atomic.LoadUint64(&denied))
	fmt.Printf("Errors:      %d\n", atomic.LoadUint64(&failOther))
}
