package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/arialabs/aria/internal"
	"github.com/arialabs/aria/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to Aria. It loads the user configuration,
// constructs the server and runs it until an interrupt is received.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose logging output")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	} else {
		logger.SetMinLoggingLevel(logger.INFO.Level())
	}

	config := internal.AriaConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go listenForInterrupt(cancel)

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Aria stopped due to error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Aria shutdown complete\n")
}

func listenForInterrupt(cancel context.CancelFunc) {
	exitChannel := make(chan os.Signal, 1)
	signal.Notify(exitChannel, os.Interrupt, syscall.SIGTERM)

	<-exitChannel
	log.Emit(logger.INFO, "Interrupt detected!\n")
	cancel()
}
