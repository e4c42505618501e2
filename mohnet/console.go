package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/HimbeerserverDE/mohnet"
	"github.com/hako/durafmt"
	"github.com/rs/zerolog"
)

// ConsoleCommandPrefix marks lines handled by the client itself, every
// other line is sent to the server
const ConsoleCommandPrefix = "/"

var errQuit = errors.New("quit")

type consoleCommand struct {
	help     string
	function func(c *mohnet.Conn, param string, log zerolog.Logger) error
}

var consoleCommands map[string]consoleCommand

func init() {
	consoleCommands = map[string]consoleCommand{
		"quit": {
			help: "disconnect and exit",
			function: func(*mohnet.Conn, string, zerolog.Logger) error {
				return errQuit
			},
		},
		"status": {
			help:     "show the connection state",
			function: cmdStatus,
		},
		"download": {
			help:     "download <file>: fetch a file from the server",
			function: cmdDownload,
		},
		"help": {
			help:     "list the console commands",
			function: cmdHelp,
		},
	}
}

func cmdStatus(c *mohnet.Conn, _ string, log zerolog.Logger) error {
	ev := log.Info().Str("event", "status").
		Stringer("state", c.State()).
		Int("protocol", c.Protocol()).
		Str("ping", c.Ping().String())
	if gs := c.Gamestate(); c.State() == mohnet.StateInGame {
		ev = ev.Str("map", gs.MapName()).Int32("serverTime", c.ServerTime()).
			Str("uptime", durafmt.Parse(c.Uptime()).LimitFirstN(2).String())
	}
	ev.Msg("")
	return nil
}

func cmdDownload(c *mohnet.Conn, param string, _ zerolog.Logger) error {
	if param == "" {
		return fmt.Errorf("usage: %sdownload <file>", ConsoleCommandPrefix)
	}
	return c.Download(param)
}

func cmdHelp(_ *mohnet.Conn, _ string, log zerolog.Logger) error {
	names := make([]string, 0, len(consoleCommands))
	for name := range consoleCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		log.Info().Str("event", "help").Msg(ConsoleCommandPrefix + name + " - " + consoleCommands[name].help)
	}
	return nil
}

// readConsole delivers the lines of r until ctx is done or r ends
func readConsole(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)

		s := bufio.NewScanner(r)
		for s.Scan() {
			line := strings.TrimSpace(s.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func runConsoleLine(c *mohnet.Conn, line string, log zerolog.Logger) error {
	if !strings.HasPrefix(line, ConsoleCommandPrefix) {
		return c.AddReliableCommand(line)
	}

	name, param, _ := strings.Cut(strings.TrimPrefix(line, ConsoleCommandPrefix), " ")
	cmd, ok := consoleCommands[name]
	if !ok {
		return fmt.Errorf("unknown command %s", name)
	}
	return cmd.function(c, strings.TrimSpace(param), log)
}
