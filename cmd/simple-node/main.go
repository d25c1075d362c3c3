// Command simple-node runs three in-process nodes on a memory bus: Alice and
// Bob share a frequency, Charlie listens elsewhere and receives nothing.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/monitoring"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/node"
)

const (
	sharedFrequency  = 1.5
	charlieFrequency = 9.0
)

func main() {
	logger := monitoring.InitLogger("simple-node")
	if err := run(logger); err != nil {
		logger.Error().Err(err).Msg("demo failed")
		os.Exit(1)
	}
}

func newNode(bus *node.MemoryBus, id string, omega float64, logger zerolog.Logger) (*node.Node, error) {
	cfg := node.DefaultConfig()
	cfg.ID = id
	cfg.Omega = omega
	cfg.Workers = 1
	cfg.Secret = hex.EncodeToString([]byte("simple-node-demo-secret"))
	return node.New(cfg, bus.Attach(8), node.WithLogger(logger))
}

func run(logger zerolog.Logger) error {
	bus := node.NewMemoryBus()

	alice, err := newNode(bus, "alice", sharedFrequency, logger)
	if err != nil {
		return err
	}
	defer alice.Close()
	bob, err := newNode(bus, "bob", sharedFrequency, logger)
	if err != nil {
		return err
	}
	defer bob.Close()
	charlie, err := newNode(bus, "charlie", charlieFrequency, logger)
	if err != nil {
		return err
	}
	defer charlie.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, msg := range []string{"Hello Bob, from Alice!", "Second secret message"} {
		fmt.Printf("Alice sends %q at f=%g\n", msg, sharedFrequency)
		if err := alice.Send(ctx, []byte(msg), sharedFrequency); err != nil {
			return err
		}
		report(ctx, "Bob", bob)
		report(ctx, "Charlie", charlie)
	}

	fmt.Println("\nCharlie retunes to the shared frequency")
	if err := charlie.SetFrequency(sharedFrequency); err != nil {
		return err
	}
	if err := alice.Send(ctx, []byte("Welcome, Charlie"), sharedFrequency); err != nil {
		return err
	}
	report(ctx, "Bob", bob)
	report(ctx, "Charlie", charlie)

	for _, n := range []*node.Node{alice, bob, charlie} {
		s := n.Stats()
		fmt.Printf("%-8s sent=%d delivered=%d discarded=%d\n", s.ID, s.Sent, s.Delivered, s.Discarded)
	}
	return nil
}

func report(ctx context.Context, name string, n *node.Node) {
	payload, err := n.Receive(ctx)
	switch {
	case err != nil:
		fmt.Printf("  %-8s error: %v\n", name, err)
	case payload == nil:
		fmt.Printf("  %-8s nothing (not tuned)\n", name)
	default:
		fmt.Printf("  %-8s received %q\n", name, payload)
	}
}
