/*
Runs the testbed frame through the render graph. Without a config file the
headless device is used, so the demo also runs on machines with no GPU.

Profiling:

	go run . -frames 600 -profile cpu
	go tool pprof -http=":8000" cpu.pprof
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/spaghettifunk/anima-framegraph/engine"
	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/testbed"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML or YAML config file, watched for changes")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until interrupted")
	profiling := flag.String("profile", "", "write a cpu or mem profile to the working directory")
	flag.Parse()

	var p interface{ Stop() }
	switch *profiling {
	case "cpu":
		p = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	case "mem":
		p = profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook)
	}

	err := run(*configPath, *frames)
	if p != nil {
		p.Stop()
	}
	if err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}
}

func run(configPath string, frames uint64) error {
	tb := testbed.NewTestGame(configPath, frames)

	e, err := engine.New(tb.Game)
	if err != nil {
		return err
	}
	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		return err
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	go func() {
		if _, ok := <-sigCh; ok {
			e.Quit()
		}
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
