package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/dvr/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [address]",
	Short: "Create a node configuration",
	Long: `Creates a node configuration for the given address, e.g. A.1. Without an address, the address and port are prompted for.
The sample config has a single neighbour in the same area, listening on the next port of localhost.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interactive := len(args) == 0
		var addr state.Address
		port, _ := cmd.Flags().GetUint16("port")
		if interactive {
			var err error
			if addr, port, err = promptNode(); err != nil {
				return err
			}
		} else {
			if err := state.AddressValidator(args[0]); err != nil {
				return err
			}
			addr = state.MustParseAddress(args[0])
		}
		nodeCfg := state.SampleConfig(addr, port)
		if err := state.NodeConfigValidator(&nodeCfg); err != nil {
			return err
		}

		ncfg, err := yaml.Marshal(&nodeCfg)
		if err != nil {
			return err
		}

		outPath := nodeConfigPath
		if o, _ := cmd.Flags().GetString("output"); o != "" {
			outPath = o
		}
		if _, err := os.Stat(outPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force && !(interactive && promptYN(fmt.Sprintf("%s already exists, overwrite it?", outPath), false)) {
				return fmt.Errorf("%s already exists, use --force to overwrite it", outPath)
			}
		}
		err = os.WriteFile(outPath, ncfg, 0600)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote config for %s to %s\n", addr, outPath)
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Uint16P("port", "p", uint16(state.DefaultPort), "udp port the node listens on")
	initCmd.Flags().StringP("output", "o", "", "Output path, defaults to the node config path")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing config")
}
