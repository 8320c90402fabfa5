package cmd

import (
	"log/slog"
	"os"

	"github.com/encodeous/dvr/core"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a router",
	Long: `This will run a router on the current host, bound to the udp address in the node config.
With --interactive, every line read from stdin of the form "<dest> <message>" is sent as a DATA packet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeCfg, err := core.ReadNodeConfig(nodeConfigPath)
		if err != nil {
			return err
		}

		opts := core.RunOptions{
			Level: slog.LevelInfo,
		}
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			opts.Level = slog.LevelDebug
		}
		opts.PrintTable, _ = cmd.Flags().GetBool("ltable")
		if ok, _ := cmd.Flags().GetBool("interactive"); ok {
			opts.Console = os.Stdin
		}
		if logPath, _ := cmd.Flags().GetString("log"); logPath != "" {
			nodeCfg.LogPath = logPath
		}

		opts.DebugAddr, _ = cmd.Flags().GetString("debug")

		return core.Start(*nodeCfg, opts)
	},
	GroupID: "dvr",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().BoolP("ltable", "t", false, "Outputs the routing table to the console whenever it is installed")
	runCmd.Flags().BoolP("interactive", "i", false, "Send messages read from stdin")
	runCmd.Flags().StringP("log", "l", "", "Also write logs to this file, overrides log_path")
	runCmd.Flags().String("debug", "", "Serve /debug/vars and /debug/metrics on this address, e.g. 127.0.0.1:6060")
}
