package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/1ureka/roomcall/internal/session"
	"github.com/1ureka/roomcall/internal/util"
)

// Commander is the part of *session.Controller driven from the console.
type Commander interface {
	Join(room string) error
	Leave() error
	InitiateCall() error
	Snapshot() session.Snapshot
}

const consoleHelp = "commands: join <room> | call | leave | status | quit"

// RunConsole reads one command per line from in until "quit", EOF or ctx
// cancellation.
func RunConsole(ctx context.Context, in io.Reader, c Commander) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		errCh <- scanner.Err()
	}()

	util.LogInfo(consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			quit, err := execute(c, line)
			if err != nil {
				util.LogWarning("%v", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// execute runs one console command. It reports whether the console should exit.
func execute(c Commander, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "join":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: join <room>")
		}
		return false, c.Join(fields[1])
	case "call":
		return false, c.InitiateCall()
	case "leave":
		return false, c.Leave()
	case "status":
		s := c.Snapshot()
		util.LogInfo("state=%s role=%s room=%q local=%t remote=%t",
			s.State, s.Role, s.Room, s.LocalStream != nil, s.RemoteStream != nil)
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (%s)", fields[0], consoleHelp)
	}
}
