// Command relay runs the signaling relay server.
//
// Participants connect to /ws/signaling/<room>/ and every message one of them
// sends is forwarded to the others in the same room.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/relay"
	"github.com/1ureka/roomcall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "Path to a YAML config file")
	listen := flag.String("listen", "", "Listen address, e.g. :8000")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *debugMode {
		cfg.Debug = true
		cfg.Mode = "debug"
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Relay v%s", version))
	pterm.Println()

	hub := relay.NewHub()
	if err := relay.Serve(ctx, cfg.ListenAddr, relay.NewRouter(hub, cfg.Mode)); err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("relay shut down")
}
