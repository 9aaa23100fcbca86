package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/zfogg/emoine/pkg/config"
	"github.com/zfogg/emoine/pkg/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
	Long: `Show the effective configuration. Values come from defaults,
/etc/emoine/config.toml, ~/.config/emoine/config.toml, .env and EMOINE_*
environment variables, in that order.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return output.PrintRecord(config.GetConfigFilePath(), flattenSettings("", config.AllSettings()))
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Persist a value to the user config file",
	Example: "  emoine config set ws.host stream.example.com",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetString(args[0], args[1]); err != nil {
			return err
		}
		output.PrintSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the user config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigFilePath())
	},
}

// flattenSettings turns nested viper settings into dotted keys
func flattenSettings(prefix string, settings map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{})

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := settings[k].(map[string]interface{}); ok {
			for nk, nv := range flattenSettings(key, nested) {
				flat[nk] = nv
			}
			continue
		}
		flat[key] = settings[k]
	}
	return flat
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}
