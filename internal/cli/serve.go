package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/fleetd/internal/config"
	"github.com/soyeahso/fleetd/internal/conn"
	"github.com/soyeahso/fleetd/internal/dispatch"
	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/gateway"
	"github.com/soyeahso/fleetd/internal/provision"
	"github.com/soyeahso/fleetd/internal/queue"
	"github.com/soyeahso/fleetd/internal/registry"
	"github.com/soyeahso/fleetd/internal/report"
	"github.com/soyeahso/fleetd/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fleet control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			dbPath := paths.DatabasePath(cfg.Store)
			db, err := store.Open(dbPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			standups := store.NewStandupStore(db)
			log.Info().Str("path", dbPath).Msg("standup store ready")

			reg := registry.New(log)
			q := queue.New(log)
			reports := report.NewCollector()

			mgr := conn.NewManager(reg, reports, cfg.Fleet.BackoffBase, cfg.Fleet.BackoffMax, log)
			defer mgr.Stop()

			var prov dispatch.Provisioner
			switch cfg.Provision.Mode {
			case "ssh":
				sshProv, err := provision.NewSSH(cfg.Provision.SSH, log)
				if err != nil {
					return err
				}
				prov = sshProv
			case "droplet":
				installer, err := provision.NewSSH(cfg.Provision.SSH, log)
				if err != nil {
					return err
				}
				dropletProv, err := provision.NewDroplet(*cfg.Provision.Droplet, installer, log)
				if err != nil {
					return err
				}
				prov = dropletProv
			default:
				log.Info().Msg("provisioning disabled — SSH_PROVISION will be rejected")
			}

			d := dispatch.New(reg, q, mgr, reports, standups, prov, dispatch.Config{
				Credential:    cfg.Gateway.Auth.Credential,
				ProvisionWait: cfg.Fleet.ProvisionWait,
			}, log)

			// Register and connect the static fleet, if any
			for _, agent := range cfg.Fleet.Agents {
				ep := domain.Endpoint{Host: agent.Host, WorkDir: agent.WorkDir}
				if err := reg.Register(agent.Name, ep); err != nil {
					return fmt.Errorf("registering %s: %w", agent.Name, err)
				}
				mgr.Connect(agent.Name, ep)
			}
			if n := len(cfg.Fleet.Agents); n > 0 {
				log.Info().Int("agents", n).Msg("static fleet connecting")
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := gateway.New(cfg.Gateway, d, log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan)")

	return cmd
}
