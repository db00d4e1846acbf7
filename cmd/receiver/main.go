// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/qft-dev/qft/config"
	"github.com/qft-dev/qft/engine"
	"github.com/qft-dev/qft/handshake"
	"github.com/qft-dev/qft/stats"
	"github.com/qft-dev/qft/transfer"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

var currentEngine *engine.Engine

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "qft-receiver"
	app.Usage = "receive a file from a qft-sender through a rendezvous helper"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "helper,h",
			Value: "127.0.0.1:4277",
			Usage: "rendezvous helper address",
		},
		cli.StringFlag{
			Name:  "phrase,p",
			Usage: "shared phrase agreed with the sender",
		},
		cli.StringFlag{
			Name:  "file,f",
			Usage: "path to write the received file to",
		},
		cli.Int64Flag{
			Name:  "expectsize",
			Usage: "expected total size in bytes, enables percentage progress reporting",
		},
		cli.BoolFlag{
			Name:  "resume",
			Usage: "append to an existing partial file at --file instead of truncating it",
		},
		cli.BoolFlag{
			Name:  "compress",
			Usage: "must match the sender's --compress setting",
		},
		cli.IntFlag{
			Name:  "dscp",
			Usage: "mark outgoing packets with this DSCP value",
		},
		cli.StringFlag{
			Name:  "statslog",
			Usage: "path (file name expanded as a Go time layout, e.g. stats-20060102.csv) to periodically append engine counters as CSV",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 3,
			Usage: "seconds between statslog writes",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress advisory logging of absorbed protocol anomalies",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "load settings from a JSON config file; values present in the file override command-line flags",
		},
	}
	app.Action = func(c *cli.Context) error {
		cfg := Config{
			Helper:      c.String("helper"),
			Phrase:      c.String("phrase"),
			File:        c.String("file"),
			ExpectSize:  c.Int64("expectsize"),
			Resume:      c.Bool("resume"),
			Compress:    c.Bool("compress"),
			DSCP:        c.Int("dscp"),
			StatsLog:    c.String("statslog"),
			StatsPeriod: c.Int("statsperiod"),
			Quiet:       c.Bool("quiet"),
		}
		if path := c.String("c"); path != "" {
			if err := parseJSONConfig(&cfg, path); err != nil {
				return errors.Wrap(err, "qft-receiver: load config file")
			}
		}

		if cfg.Phrase == "" {
			return errors.New("qft-receiver: --phrase is required")
		}
		if cfg.File == "" {
			return errors.New("qft-receiver: --file is required")
		}

		return run(cfg)
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	flags := os.O_WRONLY | os.O_CREATE
	if cfg.Resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.File, flags, 0644)
	if err != nil {
		return errors.Wrap(err, "qft-receiver: open output file")
	}
	defer f.Close()

	if cfg.Resume {
		if info, err := f.Stat(); err == nil && info.Size() > 0 {
			log.Printf("resuming receive of %q, %d bytes already on disk", cfg.File, info.Size())
		}
	}

	envCfg := config.FromEnv()
	envCfg.HideDrops = envCfg.HideDrops || cfg.Quiet

	log.Printf("dialing helper %s with phrase %q (punch strategy: %s)", cfg.Helper, cfg.Phrase, envCfg.PunchStrategy)
	conn, err := handshake.Dial(cfg.Helper, cfg.Phrase, envCfg, handshake.Options{DSCP: cfg.DSCP})
	if err != nil {
		return errors.Wrap(err, "qft-receiver: handshake")
	}
	defer conn.Close()
	log.Printf("connected to peer %s", conn.RemoteAddr())

	e := engine.New(conn, envCfg)
	currentEngine = e

	if cfg.StatsLog != "" {
		go stats.Logger(cfg.StatsLog, durationSeconds(cfg.StatsPeriod), e.Stats)
	}

	lastPct := -1
	err = transfer.Receive(e, f, transfer.RecvOptions{
		ExpectedSize: cfg.ExpectSize,
		Compress:     cfg.Compress,
		Progress: func(fraction float64) {
			pct := int(fraction * 100)
			if pct != lastPct {
				lastPct = pct
				fmt.Printf("\rreceiving... %3d%%", pct)
			}
		},
	})
	fmt.Println()
	if err != nil {
		return errors.Wrap(err, "qft-receiver: receive")
	}

	color.Green("received %q", cfg.File)
	return nil
}

func durationSeconds(n int) time.Duration {
	if n <= 0 {
		n = 3
	}
	return time.Duration(n) * time.Second
}
