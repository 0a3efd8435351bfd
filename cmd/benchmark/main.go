package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
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
	payments    int
	asset       string
	authority   string
	bootstrap   bool
)

// Metrics
var (
	totalRequests uint64
	created201    uint64 // Slot distributed
	tooEarly425   uint64 // Slot not reached yet
	conflict409   uint64 // Lost the race for a slot
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent distributors")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&payments, "payments", 100, "Number of recurring payments to create")
	flag.StringVar(&asset, "asset", "usdc", "Asset type of the seeded token accounts")
	flag.StringVar(&authority, "authority", "treasury-authority", "Treasury authority used to initialize the treasury")
	flag.BoolVar(&bootstrap, "bootstrap", false, "Open wallets and token accounts through the API instead of relying on cmd/seeder")
}

func main() {
	flag.Parse()
	if err := validateFlags(); err != nil {
		log.Fatal(err)
	}
	client := &http.Client{Timeout: 5 * time.Second}

	addrs, err := setup(client)
	if err != nil {
		log.Fatalf("setup failed: %v", err)
	}
	log.Printf("Starting Benchmark: %s | Payments: %d | Workers: %d | Duration: %s", workload, len(addrs), concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, i, addrs)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func validateFlags() error {
	if payments <= 0 {
		return fmt.Errorf("-payments must be positive, got %d", payments)
	}
	if concurrency <= 0 {
		return fmt.Errorf("-workers must be positive, got %d", concurrency)
	}
	if workload != "uniform" && workload != "hotspot" {
		return fmt.Errorf("-workload must be uniform or hotspot, got %q", workload)
	}
	return nil
}

func identity(i int) string { return fmt.Sprintf("user-%04d", i) }

func accountRef(i int, asset string) string { return fmt.Sprintf("user-%04d-%s", i, asset) }

// setup initializes the treasury and creates one payment per debtor account,
// each due every second for the length of the run.
func setup(client *http.Client) ([]string, error) {
	status, err := post(client, "/api/v1/treasury", "", map[string]interface{}{"authority": authority}, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusConflict {
		return nil, fmt.Errorf("treasury init returned %d", status)
	}

	if bootstrap {
		for i := 0; i <= payments; i++ {
			if _, err := post(client, "/api/v1/wallets/"+identity(i), "", map[string]interface{}{"amount": 10_000_000}, nil); err != nil {
				return nil, err
			}
			if _, err := post(client, "/api/v1/accounts", "", map[string]interface{}{
				"ref": accountRef(i, asset), "owner": identity(i), "asset_type": asset, "balance": 100_000,
			}, nil); err != nil {
				return nil, err
			}
		}
	}

	now := time.Now().Unix()
	runID := time.Now().UnixNano()
	addrs := make([]string, 0, payments)
	for i := 0; i < payments; i++ {
		var p struct {
			Address string `json:"address"`
		}
		status, err := post(client, "/api/v1/payments", fmt.Sprintf("bench-%d-%d", runID, i), map[string]interface{}{
			"debtor":                 identity(i),
			"creditor":               identity(i + 1),
			"debtor_asset_account":   accountRef(i, asset),
			"creditor_asset_account": accountRef(i+1, asset),
			"asset_type":             asset,
			"amount":                 1,
			"recurrence_interval":    1,
			"next_transfer_at":       now,
			"completed_at":           now + int64(duration.Seconds()) + 1,
		}, &p)
		if err != nil {
			return nil, err
		}
		if status != http.StatusCreated && status != http.StatusOK {
			return nil, fmt.Errorf("create payment %d returned %d", i, status)
		}
		addrs = append(addrs, p.Address)
	}
	return addrs, nil
}

func post(client *http.Client, path, key string, payload interface{}, out interface{}) (int, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest("POST", targetURL+path, bytes.NewBuffer(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

func worker(wg *sync.WaitGroup, start time.Time, id int, addrs []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	distributor := fmt.Sprintf("bench-distributor-%d", id)

	for time.Since(start) < duration {
		addr := pickPayment(addrs)
		status, err := post(client, "/api/v1/payments/"+addr+"/distribute", "", map[string]interface{}{"distributor": distributor}, nil)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch status {
		case 201:
			atomic.AddUint64(&created201, 1)
		case 425:
			atomic.AddUint64(&tooEarly425, 1)
		case 409:
			atomic.AddUint64(&conflict409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
}

func pickPayment(addrs []string) string {
	if workload == "hotspot" {
		// Hotspot: 90% of distributors race on the first payment
		if rand.Float32() < 0.90 {
			return addrs[0]
		}
	}
	return addrs[rand.Intn(len(addrs))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	c201 := atomic.LoadUint64(&created201)
	e425 := atomic.LoadUint64(&tooEarly425)
	c409 := atomic.LoadUint64(&conflict409)
	fErr := atomic.LoadUint64(&failOther)

	var conflictRate float64
	if total > 0 {
		conflictRate = float64(c409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"payments":          payments,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_rps":    float64(total) / d.Seconds(),
		"distributions":     c201,
		"distributions_ps":  float64(c201) / d.Seconds(),
		"not_due":           e425,
		"slot_conflicts":    c409,
		"conflict_rate_pct": conflictRate,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
