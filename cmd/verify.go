package cmd

import (
	"fmt"

	"github.com/encodeous/dvr/core"
	"github.com/encodeous/dvr/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Checks that the node config is valid",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeCfg, err := core.ReadNodeConfig(nodeConfigPath)
		if err != nil {
			return err
		}
		if err := state.NodeConfigValidator(nodeCfg); err != nil {
			return fmt.Errorf("%s is not valid: %w", nodeConfigPath, err)
		}

		cfgYaml, err := yaml.Marshal(nodeCfg)
		if err != nil {
			return err
		}
		fmt.Printf("Config is valid (announce period %s, %d/%d neighbours)\n",
			nodeCfg.AnnouncePeriod(), len(nodeCfg.Neighbours), nodeCfg.NeighbourCapacity())
		fmt.Println(string(cfgYaml))
		return nil
	},
	GroupID: "dvr",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
