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
	"io"
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
	app.Name = "qft-sender"
	app.Usage = "send a file to a waiting qft-receiver through a rendezvous helper"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "helper,h",
			Value: "127.0.0.1:4277",
			Usage: "rendezvous helper address",
		},
		cli.StringFlag{
			Name:  "phrase,p",
			Usage: "shared phrase agreed with the receiver",
		},
		cli.StringFlag{
			Name:  "file,f",
			Usage: "path of the file to send",
		},
		cli.IntFlag{
			Name:  "bitrate",
			Usage: "advisory pacing hint in bytes/sec, 0 disables pacing",
		},
		cli.Int64Flag{
			Name:  "resume",
			Usage: "byte offset to seek to before resuming an interrupted send",
		},
		cli.BoolFlag{
			Name:  "compress",
			Usage: "snappy-compress each record before sending",
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
			Bitrate:     c.Int("bitrate"),
			Resume:      c.Int64("resume"),
			Compress:    c.Bool("compress"),
			DSCP:        c.Int("dscp"),
			StatsLog:    c.String("statslog"),
			StatsPeriod: c.Int("statsperiod"),
			Quiet:       c.Bool("quiet"),
		}
		if path := c.String("c"); path != "" {
			if err := parseJSONConfig(&cfg, path); err != nil {
				return errors.Wrap(err, "qft-sender: load config file")
			}
		}

		if cfg.Phrase == "" {
			return errors.New("qft-sender: --phrase is required")
		}
		if cfg.File == "" {
			return errors.New("qft-sender: --file is required")
		}

		return run(cfg)
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	f, err := os.Open(cfg.File)
	if err != nil {
		return errors.Wrap(err, "qft-sender: open file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "qft-sender: stat file")
	}
	totalSize := info.Size()

	if cfg.Resume > 0 {
		if _, err := f.Seek(cfg.Resume, 0); err != nil {
			return errors.Wrap(err, "qft-sender: seek to resume offset")
		}
		log.Printf("resuming send of %q at byte offset %d", cfg.File, cfg.Resume)
	}

	envCfg := config.FromEnv()
	envCfg.HideDrops = envCfg.HideDrops || cfg.Quiet

	log.Printf("dialing helper %s with phrase %q (punch strategy: %s)", cfg.Helper, cfg.Phrase, envCfg.PunchStrategy)
	conn, err := handshake.Dial(cfg.Helper, cfg.Phrase, envCfg, handshake.Options{DSCP: cfg.DSCP})
	if err != nil {
		return errors.Wrap(err, "qft-sender: handshake")
	}
	defer conn.Close()
	log.Printf("connected to peer %s", conn.RemoteAddr())

	e := engine.New(conn, envCfg)
	currentEngine = e

	if cfg.StatsLog != "" {
		go stats.Logger(cfg.StatsLog, durationSeconds(cfg.StatsPeriod), e.Stats)
	}

	var src io.Reader = f
	if cfg.Bitrate > 0 {
		src = &pacedReader{r: f, bytesPerSec: cfg.Bitrate}
	}

	lastPct := -1
	err = transfer.Send(e, src, transfer.SendOptions{
		TotalSize:  totalSize,
		Compress:   cfg.Compress,
		StreamMode: envCfg.StreamMode,
		Progress: func(fraction float64) {
			pct := int(fraction * 100)
			if pct != lastPct {
				lastPct = pct
				fmt.Printf("\rsending... %3d%%", pct)
			}
		},
	})
	fmt.Println()
	if err != nil {
		return errors.Wrap(err, "qft-sender: send")
	}

	color.Green("sent %q (%d bytes)", cfg.File, totalSize)
	return nil
}

func durationSeconds(n int) time.Duration {
	if n <= 0 {
		n = 3
	}
	return time.Duration(n) * time.Second
}

// pacedReader throttles reads to roughly bytesPerSec, the driver-level
// analogue of the original GUI's "Bitrate" slider (original_source/gui.rs).
// It never alters what bytes flow, only how quickly Read hands them out.
type pacedReader struct {
	r           io.Reader
	bytesPerSec int
	sent        int
	windowStart time.Time
}

func (p *pacedReader) Read(buf []byte) (int, error) {
	if p.windowStart.IsZero() {
		p.windowStart = time.Now()
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += n
		elapsed := time.Since(p.windowStart)
		want := time.Duration(float64(p.sent) / float64(p.bytesPerSec) * float64(time.Second))
		if want > elapsed {
			time.Sleep(want - elapsed)
		}
	}
	return n, err
}
