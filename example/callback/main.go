package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/TradeReplica/pkg/tradereplica"
)

func main() {
	flow, err := tradereplica.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(_ context.Context, env tradereplica.Envelope) error {
		fmt.Printf("%s server=%d %s %s key=%s\n",
			env.Received.Format(time.RFC3339Nano),
			env.Source,
			env.Action,
			env.Kind(),
			env.Key(),
		)
		return nil
	}

	if err := flow.Run(ctx, tradereplica.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
