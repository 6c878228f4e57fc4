// Command simulator replays a trace file against a configured NVRAM
// hierarchy and dumps its final counters (§6.1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user-none/nvsim"
)

func main() {
	var configPath, tracePath string

	cmd := &cobra.Command{
		Use:           "simulator",
		Short:         "Cycle-accurate NVRAM hierarchy simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, tracePath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (required)")
	cmd.Flags().StringVarP(&tracePath, "trace", "t", "", "path to trace file (required)")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("trace")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, tracePath string) (err error) {
	logger, logErr := nvsim.NewLogger()
	if logErr != nil {
		return logErr
	}
	defer logger.Sync()

	defer nvsim.RecoverFatal(&err)

	cfg, err := nvsim.LoadConfig(configPath)
	if err != nil {
		logger.Errorw("config load failed", zap.Error(err))
		return err
	}

	entries, err := nvsim.ParseTraceFile(tracePath)
	if err != nil {
		logger.Errorw("trace load failed", zap.Error(err))
		return err
	}

	root := cfg.BuildTree()
	runner := nvsim.NewRunner(root)
	runner.Run(entries)

	if err := nvsim.Dump(cfg.DumpConfig(), root); err != nil {
		logger.Errorw("dump failed", zap.Error(err))
		return err
	}
	return nil
}
