package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zfogg/emoine/pkg/config"
	apperrors "github.com/zfogg/emoine/pkg/errors"
	"github.com/zfogg/emoine/pkg/logger"
	"github.com/zfogg/emoine/pkg/output"
	"github.com/zfogg/emoine/pkg/telemetry"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	verbose    bool
	configPath string
	outputFmt  string

	tracerProvider *sdktrace.TracerProvider
)

var rootCmd = &cobra.Command{
	Use:   "emoine",
	Short: "Emoine - live reaction stream client",
	Long: `emoine connects to the Emoine live reaction stream at
ws://localhost:80/api/ws, keeps the connection alive across server
restarts, and logs everything that happens on it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// cobra's generated "completion" command covers bash, zsh, fish and
	// powershell
	CompletionOptions: cobra.CompletionOptions{DisableDescriptions: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath); err != nil {
			return apperrors.ConfigError("config file", err)
		}

		logger.Init(verbose)

		if cmd.Flags().Changed("output") {
			if !output.ValidateOutputFormat(outputFmt) {
				return apperrors.ValidationError("output", "must be one of text, json, table")
			}
			config.Set("output.format", outputFmt)
		}

		tc := telemetry.ConfigFromSettings("emoine-"+cmd.Name(), Version)
		if cmd != serveCmd {
			tc.WSEndpoint = wsConfig().URL()
		}
		tp, err := telemetry.InitTracer(tc)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		}
		tracerProvider = tp
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := telemetry.Shutdown(tracerProvider); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
		tracerProvider = nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, apperrors.FormatError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/emoine/config.toml)")
	rootCmd.PersistentFlags().StringVar(&outputFmt, "output", "text", "Output format: text, json, table")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
