package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tilegate/internal/config"
)

var version = "dev"

type flags struct {
	port           int
	logLevel       string
	watch          bool
	preloadWorkers int
}

var opts flags

var cmdRoot = &cobra.Command{
	Use:   "tilegate [flags] <root-dir>",
	Short: "Serve a directory of MBTiles archives over HTTP",
	Long: `
tilegate exposes every .mbtiles archive found under <root-dir> as its own
tileset, addressed as /{tileset}/{z}/{x}/{y}.{ext}. Tileset metadata is served
at /{tileset} and /{tileset}.json.

Settings may also come from TILEGATE_* environment variables or a .env file.
Flags take precedence.
`,
	Version:           version,
	Args:              cobra.MaximumNArgs(1),
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg, args)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	f := cmdRoot.Flags()
	f.IntVarP(&opts.port, "port", "p", 3001, "port to listen on")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.BoolVar(&opts.watch, "watch", false, "rescan <root-dir> when archives are added or removed")
	f.IntVar(&opts.preloadWorkers, "preload-workers", 0, "open every archive at startup with this many workers (0 disables)")
}

// applyFlags overrides the environment with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config, args []string) {
	if len(args) == 1 {
		cfg.Root = args[0]
	}

	f := cmd.Flags()
	if f.Changed("port") {
		cfg.HTTP.Port = opts.port
	}
	if f.Changed("log-level") {
		cfg.Logger.Level = opts.logLevel
	}
	if f.Changed("watch") {
		cfg.Watch = opts.watch
	}
	if f.Changed("preload-workers") {
		cfg.PreloadWorkers = opts.preloadWorkers
	}
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
