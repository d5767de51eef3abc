// Command sensebridge runs the assistive-notification bridge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"sensebridge/internal/bootstrap"
	"sensebridge/internal/hwcaps"
	"sensebridge/internal/orchestrator"
	paudio "sensebridge/internal/speech/portaudio"
	"sensebridge/internal/wearable/bluez"
)

func main() {
	app := &cli.App{
		Name:  "sensebridge",
		Usage: "bridge ambient sounds and speech to a wearable and local alerts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "headless",
				Usage: "run without a display surface",
			},
			&cli.BoolFlag{
				Name:  "simulation",
				Usage: "run with simulated hardware and scripted events",
			},
			&cli.Float64Flag{
				Name:  "timeout",
				Usage: "exit after the given number of seconds",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("initializing sensebridge")

	detector := hwcaps.New(hwcaps.Probes{
		AudioInputs: paudio.NewInput().CountInputs,
		Bluetooth:   bluez.Probe,
	}, logger)

	rc := orchestrator.RuntimeContext{
		Caps:       detector.Detect(),
		Headless:   c.Bool("headless"),
		Simulation: c.Bool("simulation"),
		Logger:     logger,
	}

	// Off-target runs fall back to simulation so developer machines get the
	// scripted demo instead of a half-dead daemon.
	if !rc.Caps.EmbeddedTarget && !rc.Simulation {
		logger.Info("not running on embedded target, enabling simulation mode")
		rc.Simulation = true
	}

	services, err := bootstrap.Build(rc)
	if err != nil {
		// The only fatal category: startup construction failure.
		return cli.Exit(fmt.Sprintf("initialization failed: %v", err), 1)
	}

	orch := services.Orchestrator
	orch.HandleSignals()

	if seconds := c.Float64("timeout"); seconds > 0 {
		if err := orch.StartWithTimeout(time.Duration(seconds * float64(time.Second))); err != nil {
			orch.Stop()
			return cli.Exit(fmt.Sprintf("startup failed: %v", err), 1)
		}
	} else {
		if err := orch.Start(); err != nil {
			orch.Stop()
			return cli.Exit(fmt.Sprintf("startup failed: %v", err), 1)
		}
	}

	return orch.Run(context.Background())
}
