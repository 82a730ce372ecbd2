package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stdin).Run(ctx, os.Args); err != nil {
		log.New(os.Stderr, "[integrity] ", log.LstdFlags|log.LUTC).Printf("command failed: %v", err)
		os.Exit(1)
	}
}
