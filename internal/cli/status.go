package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/fleetd/internal/config"
	"github.com/soyeahso/fleetd/internal/gateway"
	"github.com/soyeahso/fleetd/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fleetd status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("fleetd %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:  not found (using defaults)")
				} else {
					fmt.Printf("Config:  error loading: %v\n", err)
				}
				return nil
			}

			fmt.Printf("Gateway: port=%d bind=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind)
			fmt.Printf("Fleet:   backoff=%s..%s provisionWait=%s\n",
				cfg.Fleet.BackoffBase, cfg.Fleet.BackoffMax, cfg.Fleet.ProvisionWait)
			fmt.Printf("Provision: mode=%s\n", cfg.Provision.Mode)
			fmt.Printf("Store:   %s\n", paths.DatabasePath(cfg.Store))

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			// Probe a running instance
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			client := gateway.NewClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port))
			if err := client.Health(ctx); err != nil {
				fmt.Println("\nGateway: not running")
			} else {
				fmt.Println("\nGateway: running")
			}

			return nil
		},
	}

	return cmd
}
