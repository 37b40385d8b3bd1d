// Package main starts the spell sustainer service: the privileged-side
// lifecycle engine plus the websocket relay gateway player clients dial.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	sustainercmd "github.com/wawful/spell-sustainer/internal/cmd/sustainer"
)

func main() {
	cfg, err := sustainercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SUSTAINER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sustainercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
