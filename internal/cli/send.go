package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/fleetd/internal/config"
	"github.com/soyeahso/fleetd/internal/gateway"
)

func newSendCmd() *cobra.Command {
	var (
		credential string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "send <command line>",
		Short: "Send one control command to a running fleetd",
		Long: `Send logs in with the configured credential, executes a single command,
and prints the JSON result. Example:

  fleetd send DISPATCH builder run the nightly build`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if credential == "" {
				credential = cfg.Gateway.Auth.Credential
			}
			if credential == "" {
				return fmt.Errorf("no credential configured; set gateway.auth.credential or pass --credential")
			}
			if addr == "" {
				addr = fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port)
			}

			client := gateway.NewClient(addr)
			if err := client.Login(cmd.Context(), credential); err != nil {
				return err
			}

			res, err := client.Do(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&credential, "credential", "", "login credential (default from config)")
	cmd.Flags().StringVar(&addr, "addr", "", "gateway base URL (default http://127.0.0.1:<port>)")

	return cmd
}
