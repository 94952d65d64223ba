package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/TradeReplica"
	"github.com/ghalamif/TradeReplica/internal/adapters/deadletter"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "deadletter":
		err = deadLetterCommand(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("tradereplica %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to replica configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := tradereplica.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := tradereplica.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: %d sources, %d sinks\n", *cfgPath, len(cfg.Sources), len(cfg.Sinks))
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	"replica_envelopes_enqueued_total",
	"replica_commits_total",
	"replica_queue_length",
	"replica_coalesced_pending",
	"replica_dead_letter_total",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	totals, err := sumMetrics(resp.Body, statsTargets)
	if err != nil {
		return err
	}
	fmt.Printf("[%s] enqueued=%.0f commits=%.0f queue=%.0f pending=%.0f dead_letters=%.0f\n",
		time.Now().Format(time.RFC3339),
		totals["replica_envelopes_enqueued_total"],
		totals["replica_commits_total"],
		totals["replica_queue_length"],
		totals["replica_coalesced_pending"],
		totals["replica_dead_letter_total"],
	)
	return nil
}

// sumMetrics adds up every series of the named metrics across labels.
func sumMetrics(r io.Reader, names []string) (map[string]float64, error) {
	totals := make(map[string]float64, len(names))
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, name := range names {
			if !strings.HasPrefix(line, name+" ") && !strings.HasPrefix(line, name+"{") {
				continue
			}
			idx := strings.LastIndexByte(line, ' ')
			var value float64
			if _, err := fmt.Sscanf(line[idx+1:], "%g", &value); err == nil {
				totals[name] += value
			}
		}
	}
	return totals, scanner.Err()
}

func deadLetterCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("deadletter", flag.ExitOnError)
	dir := fs.String("dir", "./data/deadletter", "Dead letter directory")
	from := fs.Uint64("from", 0, "First entry id to print")
	summary := fs.Bool("summary", false, "Print counts per sink instead of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *summary {
		counts := map[string]int{}
		err := deadletter.ReadDir(*dir, *from, func(e deadletter.Entry) error {
			counts[e.Sink]++
			return nil
		})
		if err != nil {
			return err
		}
		sinks := make([]string, 0, len(counts))
		for s := range counts {
			sinks = append(sinks, s)
		}
		sort.Strings(sinks)
		for _, s := range sinks {
			fmt.Fprintf(out, "%s\t%d\n", s, counts[s])
		}
		return nil
	}

	enc := json.NewEncoder(out)
	return deadletter.ReadDir(*dir, *from, func(e deadletter.Entry) error {
		return enc.Encode(e)
	})
}

func printUsage() {
	fmt.Printf(`TradeReplica CLI

Usage:
  tradereplica <command> [flags]

Commands:
  run          Start replicating using the provided config
  validate     Load and validate a config file without connecting
  stats        Poll the Prometheus metrics endpoint and print live counters
  deadletter   Print records the sinks gave up on, one JSON object per line

Examples:
  tradereplica run -config ./data/config.yaml
  tradereplica validate -config ./data/config.yaml
  tradereplica stats -url http://localhost:9100/metrics -interval 1s
  tradereplica deadletter -dir ./data/deadletter -summary
`)
}
