package cmd

import (
	"github.com/spf13/cobra"
	"github.com/zfogg/emoine/pkg/client"
	"github.com/zfogg/emoine/pkg/output"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client.Init()

		health, err := client.Health(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := client.Stats(cmd.Context())
		if err != nil {
			return err
		}

		return output.PrintRecord(client.BaseURL(), map[string]interface{}{
			"status":      health.Status,
			"uptime":      health.Uptime,
			"clients":     stats.Clients,
			"connections": stats.Connections,
			"broadcasts":  stats.Broadcasts,
			"dropped":     stats.Dropped,
		})
	},
}
