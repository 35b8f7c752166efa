package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sandeepkv93/solarsim/bodyintegrator"
	"github.com/sandeepkv93/solarsim/simserver"
)

func main() {
	addr := flag.String("addr", ":8080", "simulation websocket listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "prometheus metrics listen address")
	ticksPerSecond := flag.Float64("tick-rate", 120, "max tick requests per second per connection (0 disables the limit)")
	repulsion := flag.Bool("repulsion", false, "enable short-range repulsion (asteroid-belt variant)")
	allPairs := flag.Bool("all-pairs", false, "sum gravity over all body pairs instead of sun-only")
	flag.Parse()

	config := simserver.DefaultConfig()
	config.Addr = *addr
	config.MetricsAddr = *metricsAddr
	config.TicksPerSecond = *ticksPerSecond
	config.Simulation.RepulsionEnabled = *repulsion
	if *allPairs {
		config.Simulation.Mode = bodyintegrator.AllPairs
	}

	server := simserver.NewServer(config)
	server.Start()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
