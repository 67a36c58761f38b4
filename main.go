package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Stdout).Run(ctx, os.Args); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func newCommand(stdout io.Writer) *cli.Command {
	var (
		logger  = slog.New(slog.NewTextHandler(io.Discard, nil))
		logFile io.Closer
	)

	action := func(fn func(context.Context, *app, *cli.Command) error) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, logger, stdout, func(ctx context.Context, a *app) error {
				return fn(ctx, a, cmd)
			})
		}
	}

	return &cli.Command{
		Name:      "streamlink",
		Usage:     "discover, pair with and launch apps on game streaming hosts",
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-file", Usage: "write logs to `FILE` instead of stderr"},
			&cli.BoolFlag{Name: "debug", Usage: "log at debug level"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			l, closer, err := buildLogger(cmd.String("log-file"), cmd.Bool("debug"))
			if err != nil {
				return ctx, err
			}
			logger, logFile = l, closer
			return ctx, nil
		},
		After: func(context.Context, *cli.Command) error {
			if logFile != nil {
				return logFile.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "hosts",
				Usage: "list known hosts",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "scan", Usage: "browse the local network for `DURATION` before listing"},
					&cli.BoolFlag{Name: "offline", Usage: "skip the status refresh"},
				},
				Action: action(listHosts),
			},
			{
				Name:      "add",
				Usage:     "add a host by address or hostname",
				ArgsUsage: "ADDRESS",
				Action:    action(addHost),
			},
			{
				Name:      "pair",
				Usage:     "pair with a host",
				ArgsUsage: "HOST",
				Action:    action(pairHost),
			},
			{
				Name:      "unpair",
				Usage:     "forget the trust relationship with a host",
				ArgsUsage: "HOST",
				Action:    action(unpairHost),
			},
			{
				Name:      "apps",
				Usage:     "list the apps of a host",
				ArgsUsage: "HOST",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "include hidden apps"},
				},
				Action: action(listApps),
			},
			{
				Name:      "hide",
				Usage:     "hide an app from the app list",
				ArgsUsage: "HOST APP",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "undo", Usage: "show the app again"},
				},
				Action: action(hideApp),
			},
			{
				Name:      "launch",
				Usage:     "build the session for an app and print it",
				ArgsUsage: "HOST APP",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "hevc", Usage: "the local decoder supports HEVC"},
					&cli.BoolFlag{Name: "av1", Usage: "the local decoder supports AV1"},
					&cli.BoolFlag{Name: "hdr10", Usage: "the local display supports HDR10"},
				},
				Action: action(launchApp),
			},
			{
				Name:      "quit",
				Usage:     "quit the app running on a host",
				ArgsUsage: "HOST",
				Action:    action(quitApp),
			},
			{
				Name:      "remove",
				Usage:     "remove a host",
				ArgsUsage: "HOST",
				Action:    action(removeHost),
			},
			{
				Name:   "watch",
				Usage:  "run discovery and print host changes until interrupted",
				Action: action(watchHosts),
			},
			{
				Name:      "history",
				Usage:     "show pairing history",
				ArgsUsage: "[HOST]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "show at most `N` events"},
				},
				Action: action(pairingHistory),
			},
			{
				Name:   "identity",
				Usage:  "print this client's device name and certificate fingerprint",
				Action: action(showIdentity),
			},
			{
				Name:  "settings",
				Usage: "show or change stream settings",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "print the stream settings",
						Action: action(showSettings),
					},
					{
						Name:  "set",
						Usage: "change stream settings",
						Flags: []cli.Flag{
							&cli.Int32Flag{Name: "bitrate", Usage: "video bitrate in `KBPS`", Validator: positive("bitrate")},
							&cli.Int32Flag{Name: "fps", Usage: "frame rate", Validator: positive("fps")},
							&cli.Int32Flag{Name: "width", Usage: "horizontal resolution", Validator: positive("width")},
							&cli.Int32Flag{Name: "height", Usage: "vertical resolution", Validator: positive("height")},
							&cli.StringFlag{Name: "codec", Usage: "preferred codec: auto, h264, hevc or av1"},
							&cli.BoolFlag{Name: "hdr", Usage: "request HDR"},
							&cli.BoolFlag{Name: "frame-pacing", Usage: "favour smoothness over latency"},
							&cli.BoolFlag{Name: "multi-controller", Usage: "allow several controllers"},
							&cli.BoolFlag{Name: "audio-on-pc", Usage: "keep playing audio on the host"},
							&cli.BoolFlag{Name: "optimize-games", Usage: "let the host adjust game settings"},
						},
						Action: action(setSettings),
					},
				},
			},
		},
	}
}

// positive rejects zero and negative values of the named flag.
func positive(name string) func(int32) error {
	return func(v int32) error {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
		return nil
	}
}

func buildLogger(path string, debug bool) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})), f, nil
}

func requireArgs(cmd *cli.Command, n int) error {
	if cmd.NArg() < n {
		return fmt.Errorf("%s: expected %s", cmd.Name, cmd.ArgsUsage)
	}
	return nil
}
