// Command stress_test drives a running omega-node through its gRPC control
// service and reports Send throughput and latency.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/VanDung-dev/OMEGA-Engine/api"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Address      string
	Concurrency  int
	RequestCount int
	Duration     time.Duration
	AuthToken    string
	Target       float64
	PayloadSize  int
	ReportFile   string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

// latencyStats aggregates per-request latencies across workers.
type latencyStats struct {
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	sum     atomic.Int64
	min     atomic.Int64
	max     atomic.Int64
}

func (s *latencyStats) record(lat time.Duration, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	s.success.Add(1)
	s.sum.Add(int64(lat))

	l := int64(lat)
	for {
		old := s.min.Load()
		if l >= old || s.min.CompareAndSwap(old, l) {
			break
		}
	}
	for {
		old := s.max.Load()
		if l <= old || s.max.CompareAndSwap(old, l) {
			break
		}
	}
}

func main() {
	config := parseFlags()

	fmt.Println("=== OMEGA Node Stress Test ===")
	fmt.Printf("Target node:  %s\n", config.Address)
	fmt.Printf("Concurrency:  %d workers\n", config.Concurrency)
	fmt.Printf("Duration:     %v\n", config.Duration)
	fmt.Printf("Frequency:    %g\n", config.Target)
	fmt.Println()

	result, err := runStressTest(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stress_test: %v\n", err)
		os.Exit(1)
	}

	printResults(result)

	if config.ReportFile != "" {
		if err := saveReport(config, result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:50051", "control service address")
	flag.IntVar(&config.Concurrency, "c", 10, "Number of concurrent workers")
	flag.IntVar(&config.RequestCount, "n", 0, "Total number of requests (0 = unlimited, use -d instead)")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.StringVar(&config.AuthToken, "token", "", "Control token")
	flag.Float64Var(&config.Target, "f", 1.0, "Target frequency")
	flag.IntVar(&config.PayloadSize, "size", 16, "Payload size in bytes (at most 31)")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

func runStressTest(config StressTestConfig) (StressTestResult, error) {
	cc, err := grpc.NewClient(config.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return StressTestResult{}, err
	}
	defer cc.Close()
	client := api.NewControlClient(cc)

	req, err := structpb.NewStruct(map[string]interface{}{
		"payload": base64.StdEncoding.EncodeToString(make([]byte, config.PayloadSize)),
		"target":  config.Target,
	})
	if err != nil {
		return StressTestResult{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration)
	defer cancel()
	if config.AuthToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, api.MetadataToken, "Bearer "+config.AuthToken)
	}

	var (
		stats     latencyStats
		remaining atomic.Int64
		wg        sync.WaitGroup
	)
	stats.min.Store(1<<63 - 1)
	remaining.Store(int64(config.RequestCount))

	startTime := time.Now()
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if config.RequestCount > 0 && remaining.Add(-1) < 0 {
					return
				}
				start := time.Now()
				_, err := client.Send(ctx, req)
				if ctx.Err() != nil {
					return
				}
				stats.record(time.Since(start), err)
				if err != nil {
					// Back off briefly so a failing node is not hammered.
					time.Sleep(10 * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
	duration := time.Since(startTime)

	success := stats.success.Load()
	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(stats.sum.Load() / success)
	} else {
		stats.min.Store(0)
	}

	return StressTestResult{
		TotalRequests:  stats.total.Load(),
		SuccessfulReqs: success,
		FailedReqs:     stats.failed.Load(),
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(stats.min.Load()),
		MaxLatency:     time.Duration(stats.max.Load()),
		RequestsPerSec: float64(stats.total.Load()) / duration.Seconds(),
	}, nil
}

func printResults(result StressTestResult) {
	total := float64(result.TotalRequests)
	if total == 0 {
		total = 1
	}
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, float64(result.SuccessfulReqs)/total*100)
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, float64(result.FailedReqs)/total*100)
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) error {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":      config.Address,
			"concurrency":  config.Concurrency,
			"duration":     config.Duration.String(),
			"target":       config.Target,
			"payload_size": config.PayloadSize,
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(config.ReportFile, data, 0o644)
}
