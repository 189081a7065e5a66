package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/thesyncim/streamdec/internal/config"
	"github.com/thesyncim/streamdec/internal/logging"
)

var (
	cfgPath  string
	logLevel string

	cfg    *config.Config
	logger = zerolog.Nop()

	rootCmd = &cobra.Command{
		Use:   "streamdec",
		Short: "Decode H.264 streams received over TCP, RTP or RTMP",
		Long: `streamdec receives an H.264 elementary stream, decodes it with a hardware
or software backend and converts every picture to a packed or planar frame.

Settings come from property.ini (or the file given with --config) and
STREAMDEC_* environment variables. Flags override both.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "completion":
				return nil
			}
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg = loaded

			lc := logging.DefaultConfig()
			lc.Level = logging.ParseLevel(cfg.LogLevel)
			if cmd.Flags().Changed("log-level") {
				lc.Level = logging.ParseLevel(logLevel)
			}
			lc.Format = cfg.LogFormat
			lc.Output = cmd.ErrOrStderr()
			logger = logging.New(lc)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logging.WithContext(ctx, logger))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", fmt.Sprintf("settings file (default %s)", config.DefaultFile))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error (overrides logLevel)")
}
