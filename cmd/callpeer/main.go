// Command callpeer is the call peer CLI.
//
// This tool joins a room on a signaling relay, captures the local camera and
// microphone, and negotiates a direct WebRTC call with the other participant
// of the room. Media flows peer to peer; the relay only carries offers,
// answers and ICE candidates.
//
// It can be launched interactively (no -room flag) or non-interactively via
// CLI flags (-room, -relay, -config, -call, -debug).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/roomcall/internal/app"
	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/session"
	"github.com/1ureka/roomcall/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "Path to a YAML config file")
	room := flag.String("room", "", "Room to join")
	relayURL := flag.String("relay", "", "Relay base URL (http, https, ws or wss)")
	call := flag.Bool("call", false, "Initiate the call once joined")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *room != "" {
		cfg.Room = *room
	}
	if *relayURL != "" {
		cfg.RelayURL = *relayURL
		if err := cfg.Validate(); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}
	if *debugMode {
		cfg.Debug = true
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Callpeer v%s", version))
	pterm.Println()

	if cfg.Room == "" {
		cfg.Room = askRoom()
	}

	if err := run(ctx, cfg, *call); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// run joins cfg.Room and hands the terminal to the console until quit.
func run(ctx context.Context, cfg *config.Config, call bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	renderer := app.NewRenderer(ctx)
	ctrl, err := app.NewController(ctx, cfg, renderer)
	if err != nil {
		return err
	}
	defer func() {
		// Stopping closes the peer connection, which ends the drain loops.
		ctrl.Stop()
		cancel()
		renderer.Wait()
	}()

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	if call {
		go callWhenJoined(ctx, ctrl)
	}

	if err := ctrl.Join(cfg.Room); err != nil {
		return err
	}
	return app.RunConsole(ctx, os.Stdin, ctrl)
}

// callWhenJoined initiates the call as soon as the controller reaches Joined.
func callWhenJoined(ctx context.Context, ctrl *session.Controller) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctrl.Snapshot().State != session.StateJoined {
				continue
			}
			if err := ctrl.InitiateCall(); err != nil {
				util.LogWarning("failed to initiate call: %v", err)
			}
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askRoom prompts the user for a room name until a non-empty one is entered.
func askRoom() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room name").
			Show()

		room := strings.TrimSpace(raw)
		if room != "" {
			pterm.Println()
			return room
		}

		util.LogWarning("invalid input: room name cannot be empty")
		pterm.Println()
	}
}
