package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL    string
	concurrency  int
	duration     time.Duration
	workload     string
	accountsFile string
	amount       string
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Committed
	fail404       uint64 // Unknown account
	fail422       uint64 // Rejected (closed account, amount exceeds remaining)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot | bulk")
	flag.StringVar(&accountsFile, "accounts", "accounts.txt", "File of account ids written by the seeder")
	flag.StringVar(&amount, "amount", "0.01", "Amount paid per request")
}

func main() {
	flag.Parse()

	ids, err := loadAccounts(accountsFile)
	if err != nil {
		log.Fatalf("Unable to load account ids: %v", err)
	}
	if len(ids) < 2 {
		log.Fatalf("Need at least 2 account ids in %s, got %d", accountsFile, len(ids))
	}

	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Accounts: %d", workload, concurrency, duration, len(ids))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, ids)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func loadAccounts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, sc.Err()
}

func worker(wg *sync.WaitGroup, start time.Time, ids []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		url, payload := nextRequest(ids)
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusNotFound:
			atomic.AddUint64(&fail404, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// nextRequest picks the accounts to pay according to the workload.
func nextRequest(ids []string) (string, map[string]any) {
	payload := map[string]any{
		"amount":         amount,
		"paymentMethod":  "Cash",
		"servicePointId": "benchmark",
		"userName":       "benchmark",
		"notifyPatron":   false,
	}

	switch workload {
	case "bulk":
		// Bulk: overlapping pairs force ordered row locking across requests
		a := rand.Intn(len(ids))
		b := (a + 1 + rand.Intn(3)) % len(ids)
		payload["accountIds"] = []string{ids[a], ids[b]}
		return targetURL + "/accounts-bulk/pay", payload
	case "hotspot":
		// Hotspot: 90% of traffic goes to the first two accounts
		if rand.Float32() < 0.90 {
			return targetURL + "/accounts/" + ids[rand.Intn(2)] + "/pay", payload
		}
	}

	// Uniform Random
	return targetURL + "/accounts/" + ids[rand.Intn(len(ids))] + "/pay", payload
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f404 := atomic.LoadUint64(&fail404)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var rejectRate float64
	if total > 0 {
		rejectRate = float64(f422) / float64(total) * 100
	}

	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success_committed": s201,
		"not_found":         f404,
		"rejected":          f422,
		"reject_rate_pct":   rejectRate,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
