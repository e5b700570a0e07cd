package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/peercall/internal/config"
)

var v = config.NewClientViper()

var rootCmd = &cobra.Command{
	Use:   "peercall",
	Short: "Headless peer for peercall rooms",
	Long: `peercall joins a room on a peercall signaling server, negotiates a direct
WebRTC connection with every other member and prints what happens.

Examples:
  peercall join team --name alice --camera
  peercall join team --key "correct horse"
  peercall rooms --server http://localhost:8080`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(v.GetString("log_level"))
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("server", "ws://localhost:8080", "signaling server URL")
	pf.String("log-level", "warn", "log level (trace, debug, info, warn, error)")
	_ = v.BindPFlag("server", pf.Lookup("server"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))

	rootCmd.AddCommand(joinCmd, roomsCmd)
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}
