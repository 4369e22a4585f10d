// SPDX-License-Identifier: MIT
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"termviz/cmd"
	"termviz/internal/analysis"
	"termviz/internal/buffer"
	"termviz/internal/config"
	"termviz/internal/dsp"
	applog "termviz/internal/log"
	"termviz/internal/pipeline"
	"termviz/internal/source"
	"termviz/internal/tui"
)

// Exit codes of the CLI contract.
const (
	exitOK          = 0
	exitBadArgs     = 2
	exitNoAudio     = 3
	exitNoDecoder   = 4
	exitRuntimeFail = 5
)

// main runs in three phases:
//
// 1. Startup (cold path): parse arguments, load configuration, execute
// one-off commands, construct the pipeline.
//
// 2. Concurrent (hot path): the source's producer thread feeds the main
// buffer, the analyzer goroutine drains it through the control chain and
// FFT, and frames stream out to the renderer transports.
//
// 3. Shutdown (cold path): on SIGINT/SIGTERM, stop sources, join the
// analyzer, and tear the buffers down.
func main() {
	os.Exit(run())
}

func run() int {
	cfg, command, err := cmd.ParseArgs()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitBadArgs
	}

	switch command {
	case cmd.CommandNone:
		return exitOK
	case cmd.CommandList:
		if err := tui.Run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitNoAudio
		}
		return exitOK
	}

	applog.SetVerbose(cfg.Debug)
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(cfg, err)
	}
	defer p.Close()

	if err := p.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(cfg, err)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	applog.Infof("termviz: visualizing %s (mode %s); Ctrl-C to quit",
		cfg.Audio.Source, cfg.Audio.Mode)

	<-done

	if err := p.Close(); err != nil {
		applog.Errorf("termviz: shutdown: %v", err)
		return exitRuntimeFail
	}
	return exitOK
}

// exitCodeFor maps an error to the CLI contract: 2 for bad parameters,
// 3 when no audio system is usable, 4 when no decoder is usable, 5 for
// everything else.
func exitCodeFor(cfg *config.Config, err error) int {
	switch {
	case errors.Is(err, source.ErrInvalidArgument),
		errors.Is(err, buffer.ErrInvalidArgument),
		errors.Is(err, analysis.ErrInvalidArgument),
		errors.Is(err, dsp.ErrInvalidArgument):
		return exitBadArgs
	case errors.Is(err, source.ErrUnsupportedEnvironment):
		if len(cfg.Audio.Source) > 5 && cfg.Audio.Source[:5] == "file:" {
			return exitNoDecoder
		}
		return exitNoAudio
	default:
		return exitRuntimeFail
	}
}
