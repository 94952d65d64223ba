package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ghalamif/TradeReplica"
)

// Feeds a synthetic price stream through an external source and reads the
// coalesced output back from a channel sink.
func main() {
	cfg := &tradereplica.Config{
		Policy:     tradereplica.Policy{MaxQueueLen: 1024, OnQueueFull: "block", FlushInterval: 500 * time.Millisecond},
		Metrics:    tradereplica.MetricsConfig{Disabled: true},
		DeadLetter: tradereplica.DeadLetterConfig{Disabled: true},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed := tradereplica.NewExternalSource(1, nil)
	sink, envelopes, _ := tradereplica.NewChannelSink("fanout", 32)
	go printer(envelopes)

	flow, err := tradereplica.ConfFromConfig(cfg)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	rt, err := flow.StreamIN(tradereplica.StreamInSource(feed)).StreamOUT(tradereplica.StreamOutSink(sink))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}

	go func() {
		bid := decimal.RequireFromString("1.1000")
		step := decimal.RequireFromString("0.0001")
		for ctx.Err() == nil {
			bid = bid.Add(step)
			q := tradereplica.Quote{Symbol: "EURUSD", Bid: bid, Ask: bid.Add(step)}
			if err := feed.Publish(ctx, tradereplica.ActionUpdate, q); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func printer(envelopes <-chan tradereplica.Envelope) {
	for env := range envelopes {
		q := env.Record.(tradereplica.Quote)
		fmt.Printf("%s bid=%s ask=%s\n", q.Symbol, q.Bid, q.Ask)
	}
}
