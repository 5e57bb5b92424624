package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/sudoku"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Address      string
	Concurrency  int
	RequestCount int
	Duration     time.Duration
	Timeout      time.Duration
	PuzzleFile   string
	ReportFile   string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	Validations    int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
	Winners        map[string]int64
}

// samplePuzzle leaves two blanks per row so a race finishes quickly.
var samplePuzzle = sudoku.Grid{
	{5, 3, 0, 6, 7, 8, 9, 0, 2},
	{6, 0, 2, 1, 9, 5, 3, 4, 0},
	{1, 9, 8, 0, 4, 2, 5, 0, 7},
	{8, 5, 9, 7, 0, 1, 4, 2, 0},
	{0, 2, 6, 8, 5, 3, 0, 9, 1},
	{7, 1, 0, 9, 2, 4, 8, 0, 6},
	{9, 6, 1, 5, 3, 0, 2, 8, 0},
	{2, 0, 7, 4, 1, 9, 6, 0, 5},
	{3, 4, 5, 0, 8, 6, 0, 7, 9},
}

type solveResponse struct {
	Sudoku      sudoku.Grid `json:"sudoku"`
	Time        float64     `json:"time"`
	Validations int64       `json:"validations"`
	Winner      string      `json:"winner"`
}

type collector struct {
	totalReqs    int64
	successReqs  int64
	failedReqs   int64
	validations  int64
	totalLatency int64
	minLatency   int64
	maxLatency   int64

	mu      sync.Mutex
	winners map[string]int64
}

func main() {
	config := parseFlags()

	payload, err := loadPayload(config.PuzzleFile)
	if err != nil {
		log.Fatalf("Failed to load puzzle: %v", err)
	}

	fmt.Println("=== SudokuMesh Solve Stress Test ===")
	fmt.Printf("Target: http://%s/solve\n", config.Address)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	if config.RequestCount > 0 {
		fmt.Printf("Requests: %d\n", config.RequestCount)
	} else {
		fmt.Printf("Duration: %v\n", config.Duration)
	}
	fmt.Println()

	result := runStressTest(config, payload)

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:8007", "HTTP address of a node")
	flag.IntVar(&config.Concurrency, "c", 4, "Number of concurrent workers")
	flag.IntVar(&config.RequestCount, "n", 0, "Total number of requests (0 = unlimited, use -d instead)")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.DurationVar(&config.Timeout, "t", 5*time.Minute, "Per-request timeout")
	flag.StringVar(&config.PuzzleFile, "puzzle", "", "JSON file holding a 9x9 puzzle (default: built-in sample)")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func loadPayload(path string) ([]byte, error) {
	grid := samplePuzzle
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &grid); err != nil {
			return nil, err
		}
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]sudoku.Grid{"sudoku": grid})
}

func runStressTest(config StressTestConfig, payload []byte) StressTestResult {
	c := &collector{
		minLatency: 1<<63 - 1,
		winners:    make(map[string]int64),
	}
	client := &http.Client{Timeout: config.Timeout}

	var (
		wg       sync.WaitGroup
		stopChan = make(chan struct{})
		budget   = int64(config.RequestCount)
	)

	startTime := time.Now()

	// Start workers
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(client, config, payload, stopChan, &budget, c)
		}()
	}

	if config.RequestCount > 0 {
		wg.Wait()
	} else {
		time.Sleep(config.Duration)
		close(stopChan)
		wg.Wait()
	}

	duration := time.Since(startTime)
	total := atomic.LoadInt64(&c.totalReqs)
	success := atomic.LoadInt64(&c.successReqs)
	minLat := atomic.LoadInt64(&c.minLatency)
	if success == 0 {
		minLat = 0
	}

	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(atomic.LoadInt64(&c.totalLatency) / success)
	}

	return StressTestResult{
		TotalRequests:  total,
		SuccessfulReqs: success,
		FailedReqs:     atomic.LoadInt64(&c.failedReqs),
		Validations:    atomic.LoadInt64(&c.validations),
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(minLat),
		MaxLatency:     time.Duration(atomic.LoadInt64(&c.maxLatency)),
		RequestsPerSec: float64(total) / duration.Seconds(),
		Winners:        c.winners,
	}
}

func runWorker(client *http.Client, config StressTestConfig, payload []byte, stop chan struct{}, budget *int64, c *collector) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if config.RequestCount > 0 && atomic.AddInt64(budget, -1) < 0 {
			return
		}

		start := time.Now()
		resp, err := sendRequest(client, config.Address, payload)
		latency := time.Since(start)
		atomic.AddInt64(&c.totalReqs, 1)

		if err != nil {
			atomic.AddInt64(&c.failedReqs, 1)
			// Small sleep on error to avoid hammering
			time.Sleep(10 * time.Millisecond)
			continue
		}
		c.record(latency, resp)
	}
}

func (c *collector) record(latency time.Duration, resp solveResponse) {
	atomic.AddInt64(&c.successReqs, 1)
	atomic.AddInt64(&c.totalLatency, int64(latency))
	atomic.AddInt64(&c.validations, resp.Validations)

	// Update min/max latency
	lat := int64(latency)
	for {
		old := atomic.LoadInt64(&c.minLatency)
		if lat >= old || atomic.CompareAndSwapInt64(&c.minLatency, old, lat) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&c.maxLatency)
		if lat <= old || atomic.CompareAndSwapInt64(&c.maxLatency, old, lat) {
			break
		}
	}

	c.mu.Lock()
	c.winners[resp.Winner]++
	c.mu.Unlock()
}

func sendRequest(client *http.Client, addr string, payload []byte) (solveResponse, error) {
	var out solveResponse

	resp, err := client.Post("http://"+addr+"/solve", "application/json", bytes.NewReader(payload))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, err
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, err
	}
	if !sudoku.IsSolved(out.Sudoku) {
		return out, fmt.Errorf("node returned an unsolved grid")
	}
	return out, nil
}

func printResults(result StressTestResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	if result.TotalRequests > 0 {
		fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, float64(result.SuccessfulReqs)/float64(result.TotalRequests)*100)
		fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, float64(result.FailedReqs)/float64(result.TotalRequests)*100)
	}
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Validations:     %d\n", result.Validations)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
	for winner, n := range result.Winners {
		fmt.Printf("Won by %-21s %d\n", winner+":", n)
	}
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"concurrency": config.Concurrency,
			"requests":    config.RequestCount,
			"duration":    config.Duration.String(),
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"validations":      result.Validations,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
			"winners":          result.Winners,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
