/*
Mohnet connects to a legacy game server and keeps a client session
alive: it runs the handshake, follows the snapshots, predicts the local
player and forwards console lines as client commands.

Usage:

	mohnet [config.yml]
*/
package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/HimbeerserverDE/mohnet"
	"github.com/HimbeerserverDE/mohnet/capture"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// frameInterval is the client frame rate the connection is ticked at
const frameInterval = 8 * time.Millisecond

func main() {
	path := "config.yml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := mohnet.LoadConfig(path)
	if err != nil {
		fatal(zerolog.New(os.Stderr), err, "load config")
	}

	var w io.Writer = os.Stdout
	if cfg.Log.Dir != "" {
		lw, err := mohnet.NewLogWriter(cfg.Log.Dir)
		if err != nil {
			fatal(zerolog.New(os.Stderr), err, "open log")
		}
		defer lw.Close()
		w = lw
	}

	log, err := mohnet.NewLogger(cfg.Log, w)
	if err != nil {
		fatal(zerolog.New(os.Stderr), err, "log level")
	}

	if cfg.Address == "" {
		fatal(log, mohnet.ErrConfig, "address not set")
	}

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		fatal(log, err, "connection ended")
	}
}

func fatal(log zerolog.Logger, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}

func run(cfg *mohnet.Config, log zerolog.Logger) error {
	sock, err := mohnet.DialUDP(cfg.Address, log)
	if err != nil {
		return err
	}

	var s mohnet.Socket = sock
	if cfg.Capture != "" {
		rec, err := capture.Create(cfg.Capture, sock.LocalAddr().(*net.UDPAddr), sock.RemoteAddr().(*net.UDPAddr))
		if err != nil {
			sock.Close()
			return err
		}
		s = capture.Wrap(sock, rec)
		log.Info().Str("event", "capture").Str("path", cfg.Capture).Msg("")
	}

	c := mohnet.NewConn(cfg, s, log)
	defer c.Close()

	if cfg.Storage != "" {
		store, err := mohnet.OpenStorage(cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()
		c.SetStorage(store)
	}

	c.RegisterOnPrint(func(c *mohnet.Conn, s string) { log.Info().Str("event", "server").Msg(s) })
	c.RegisterOnCenterprint(func(c *mohnet.Conn, s string) { log.Info().Str("event", "center").Msg(s) })
	c.RegisterOnDownload(func(c *mohnet.Conn, b *mohnet.DownloadBlock) {
		if b.Done {
			log.Info().Str("event", "download").Str("name", b.Name).
				Str("size", humanize.Bytes(uint64(b.Count))).Msg("done")
		}
	})
	c.RegisterOnDisconnect(func(c *mohnet.Conn, reason string) {
		log.Warn().Str("event", "kicked").Str("reason", reason).Msg("")
	})

	ctx, stop := signalContext(log)
	defer stop()

	lines := readConsole(ctx, os.Stdin)

	if err := c.Connect(time.Now()); err != nil {
		return err
	}

	t := time.NewTicker(frameInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.Disconnect()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := runConsoleLine(c, line, log); err != nil {
				if errors.Is(err, errQuit) {
					return c.Disconnect()
				}
				log.Warn().Err(err).Str("line", line).Msg("console")
			}
		case now := <-t.C:
			if err := c.Tick(now); err != nil {
				return err
			}
		}
	}
}
