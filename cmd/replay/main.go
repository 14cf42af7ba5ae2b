// Replay tool for running Harrier over an AMLSim transaction extract.
//
// Usage:
//   go run cmd/replay/main.go -csv /path/to/transactions.csv -partitions 4
//
// This tool:
//  1. Reads AMLSim rows (step,type,amount,nameOrig,nameDest,isSAR,alertID)
//  2. Appends them to an in-memory transaction log partitioned by origin
//  3. Runs the full scoring pipeline until the log is drained
//  4. Prints the cases that were opened, highest composite first
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/broker"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/score"
	"github.com/opensource-finance/harrier/internal/state"
)

const topic = "aml_transactions"

func main() {
	csvPath := flag.String("csv", "", "path to the AMLSim transaction CSV")
	partitions := flag.Int("partitions", 4, "partition count for the in-memory log")
	expression := flag.String("policy", "", "promotion policy expression (default: composite >= 70)")
	timeout := flag.Duration("timeout", 5*time.Minute, "abort if the log is not drained in time")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "missing required -csv flag")
		flag.Usage()
		os.Exit(2)
	}

	log := broker.NewMemoryLog(*partitions)
	total, skipped, err := loadCSV(log, *csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *csvPath, err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d records (%d header/blank lines skipped) across %d partitions\n", total, skipped, *partitions)

	// No profile store: jurisdiction scores fail open to zero.
	resolver := func(context.Context, string) (float64, error) { return 0, nil }
	agg, err := score.NewAggregator(detector.DefaultScorers(resolver), score.DefaultWeights())
	if err != nil {
		fmt.Fprintf(os.Stderr, "aggregator: %v\n", err)
		os.Exit(1)
	}
	promotion, err := policy.NewPromotion(*expression)
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy: %v\n", err)
		os.Exit(1)
	}

	store := state.NewStore(domain.DefaultWindowSteps)
	manager := cases.NewManager(domain.DefaultHopRadius)
	engine := pipeline.New(pipeline.Config{Topic: topic, Group: "harrier-replay"}, log, store, agg, promotion, manager)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(ctx)
	}()

	start := time.Now()
	if err := waitDrained(log, *partitions, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
	cancel()
	<-done
	elapsed := time.Since(start)

	printSummary(manager, total, elapsed)
}

// loadCSV appends every data row to the log, partitioned by origin account.
func loadCSV(log *broker.MemoryLog, path string) (total, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "step,") {
			skipped++
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			skipped++
			continue
		}
		origin := strings.TrimSpace(fields[3])
		log.Append(topic, origin, []byte(line))
		total++
	}
	return total, skipped, scanner.Err()
}

// waitDrained polls commit positions until every partition has consumed its
// backlog.
func waitDrained(log *broker.MemoryLog, partitions int, timeout time.Duration) error {
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for {
		drained := true
		for p := int32(0); p < int32(partitions); p++ {
			wm, err := log.Watermarks(ctx, topic, p)
			if err != nil {
				return err
			}
			committed, err := log.Committed(ctx, "harrier-replay", topic, p)
			if err != nil {
				return err
			}
			if committed < wm.High-1 {
				drained = false
				break
			}
		}
		if drained {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("log not drained within %s", timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func printSummary(manager *cases.Manager, total int, elapsed time.Duration) {
	all := manager.ListCases("", "")
	sort.Slice(all, func(i, j int) bool { return all[i].RiskScore > all[j].RiskScore })

	byLevel := map[domain.RiskLevel]int{}
	for _, c := range all {
		byLevel[c.RiskLevel]++
	}

	rate := float64(total) / elapsed.Seconds()
	fmt.Printf("\nprocessed %d records in %s (%.0f records/sec)\n", total, elapsed.Round(time.Millisecond), rate)
	fmt.Printf("cases opened: %d (HIGH %d, MEDIUM %d, LOW %d)\n\n",
		len(all), byLevel[domain.LevelHigh], byLevel[domain.LevelMedium], byLevel[domain.LevelLow])

	for _, c := range all {
		fmt.Printf("  %s  entity=%s  score=%.1f  level=%s  status=%s\n",
			c.ID, c.EntityID, c.RiskScore, c.RiskLevel, c.Status)
		for i, d := range c.Drivers {
			if i == 3 {
				break
			}
			fmt.Printf("      %-16s %.2f\n", d.Name, d.Value)
		}
	}
}
