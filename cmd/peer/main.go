// Package main implements the EdgeShift peer: it binds one lockstep
// endpoint and serves the coordinator's probes (answered with live resource
// metrics) and task dispatches (answered with classifier output), one
// request at a time per connection.
//
// Configuration:
//   - PEER_BIND: endpoint address (default ":5555")
//   - PEER_LABELS: comma-separated classifier labels
//   - PEER_SIMULATE_METRICS: "true" to fabricate resource readings
//
// Example usage:
//
//	PEER_BIND=:5556 ./peer
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/config"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/device"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
)

func main() {
	cfg, err := config.LoadPeer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var metrics device.MetricsProvider
	if cfg.SimulateMetrics {
		metrics = device.NewSimulatedMetrics(time.Now().UnixNano())
	} else {
		// Real readings where the host supports them, simulated values
		// for the rest (battery, typically).
		metrics = device.FallbackMetrics{
			Primary:  device.SystemMetrics{},
			Fallback: device.NewSimulatedMetrics(time.Now().UnixNano()),
		}
	}

	engine := model.NewStubClassifier(cfg.Labels, 3)
	node := device.NewNode(engine, metrics)

	listener, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		log.Fatalf("bind %s: %v", cfg.Bind, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- node.Serve(ctx, listener) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		cancel()
		<-errc
	case err := <-errc:
		if err != nil {
			log.Fatalf("serve: %v", err)
		}
	}
	log.Println("peer stopped")
}
