package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"lr1110-host/internal/config"
	"lr1110-host/internal/logging"
)

// version is the host software version written in every result file.
var version = "1.4.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lr1110-host: %v\n", err)
		os.Exit(1)
	}
}

// appState is shared by every command once the global flags are applied.
type appState struct {
	cfg config.Config
}

// logger builds the process logger. file overrides log.file when the
// configuration leaves it empty.
func (s *appState) logger(file string) (*zap.SugaredLogger, func(), error) {
	lc := logging.Config{
		Level:      s.cfg.Log.Level,
		File:       s.cfg.Log.File,
		MaxSizeMB:  s.cfg.Log.MaxSizeMB,
		MaxBackups: s.cfg.Log.MaxBackups,
		MaxAgeDays: s.cfg.Log.MaxAgeDays,
	}
	if strings.TrimSpace(lc.File) == "" {
		lc.File = file
	}
	return logging.New(lc)
}

func newApp() *cli.App {
	st := &appState{}
	return &cli.App{
		Name:    "lr1110-host",
		Usage:   "host companion for LR1110 field tests",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "serial device of the evaluation board (default: auto-detect)",
			},
			&cli.IntFlag{
				Name:    "baud",
				Aliases: []string{"b"},
				Usage:   "serial baud rate",
			},
			&cli.StringFlag{
				Name:  "driver",
				Usage: "serial driver: bugst or termios",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "execute a job file against the chip and record results",
				ArgsUsage: "<job file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "top-results-folder",
						Aliases: []string{"f"},
						Usage:   "directory holding every run's result folder (default: current directory)",
					},
					&cli.StringFlag{
						Name:    "result-folder-name",
						Aliases: []string{"r"},
						Usage:   "result folder of this run (default: fieldTests_<UTC date>)",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("run expects exactly one job file", 2)
					}
					if v := c.String("top-results-folder"); v != "" {
						st.cfg.Results.TopFolder = v
					}
					if v := c.String("result-folder-name"); v != "" {
						st.cfg.Results.FolderName = v
					}
					return runField(c.Context, st, c.Args().First())
				},
			},
			{
				Name:  "almanac-update",
				Usage: "download an almanac image into the chip",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "read the almanac image from a file instead of the cloud service",
					},
					&cli.StringFlag{
						Name:    "token",
						Aliases: []string{"t"},
						Usage:   "almanac service subscription token",
					},
					&cli.StringFlag{
						Name:    "url",
						Aliases: []string{"u"},
						Usage:   "almanac service base URL",
					},
				},
				Action: func(c *cli.Context) error {
					if v := c.String("file"); v != "" {
						st.cfg.Almanac.File = v
					}
					if v := c.String("token"); v != "" {
						st.cfg.Almanac.Token = v
					}
					if v := c.String("url"); v != "" {
						st.cfg.Almanac.URLBase = v
					}
					return updateAlmanac(c.Context, st)
				},
			},
			{
				Name:      "nav-parse",
				Usage:     "interpret NAV messages from a result file or a single hex message",
				ArgsUsage: "<result file | nav hex>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "nav-message",
						Aliases: []string{"m"},
						Usage:   "the argument is a NAV message, not a result file",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "write interpreted messages to this file instead of stdout",
					},
					&cli.StringFlag{
						Name:  "reference",
						Usage: "true position as lat,lon; reports the assistance position error",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("nav-parse expects exactly one argument", 2)
					}
					in := c.Args().First()
					if c.Bool("nav-message") {
						return printNavMessage(c.App.Writer, in, c.String("reference"))
					}
					return parseResultFile(c.App.Writer, in, c.String("output"))
				},
			},
			{
				Name:      "summary",
				Usage:     "print counts of a result file",
				ArgsUsage: "<result file>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("summary expects exactly one result file", 2)
					}
					return printNavSummary(c.App.Writer, c.Args().First())
				},
			},
		},
	}
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
		cfg = loaded
	}
	if v := c.String("log-level"); v != "" {
		if _, err := logging.ParseLevel(v); err != nil {
			return config.Config{}, err
		}
		cfg.Log.Level = v
	}
	if v := c.String("device"); v != "" {
		cfg.Serial.Device = v
	}
	if v := c.Int("baud"); v > 0 {
		cfg.Serial.Baud = v
	}
	if v := c.String("driver"); v != "" {
		cfg.Serial.Driver = v
	}
	return cfg, nil
}
