package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/digitalocean/godo"
	"golang.org/x/oauth2"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
)

// ErrDropletTimeout indicates a created droplet never became reachable.
var ErrDropletTimeout = errors.New("droplet did not become active in time")

// DropletConfig configures provisioning onto freshly created DigitalOcean
// droplets.
type DropletConfig struct {
	Token   string   `yaml:"token"`
	Region  string   `yaml:"region"`
	Size    string   `yaml:"size"`
	Image   string   `yaml:"image"`
	SSHKeys []string `yaml:"ssh_keys"` // key IDs or fingerprints

	ActiveWait time.Duration `yaml:"active_wait"` // how long to wait for the droplet to boot
}

type tokenSource struct {
	AccessToken string
}

func (t *tokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: t.AccessToken}, nil
}

// Droplet creates a droplet per agent and then installs the daemon onto
// it over SSH. The endpoint's host names the desired agent port; the
// droplet's public address replaces it once known.
type Droplet struct {
	cfg    DropletConfig
	client *godo.Client
	ssh    *SSH
	log    *logging.Logger
}

// NewDroplet builds a droplet provisioner backed by the given SSH
// installer.
func NewDroplet(cfg DropletConfig, installer *SSH, log *logging.Logger) (*Droplet, error) {
	if cfg.Token == "" {
		return nil, errors.New("digitalocean token is required")
	}
	if cfg.Region == "" || cfg.Size == "" || cfg.Image == "" {
		return nil, errors.New("droplet region, size, and image are required")
	}
	if cfg.ActiveWait <= 0 {
		cfg.ActiveWait = 3 * time.Minute
	}

	oauthClient := oauth2.NewClient(context.Background(), &tokenSource{AccessToken: cfg.Token})
	return &Droplet{
		cfg:    cfg,
		client: godo.NewClient(oauthClient),
		ssh:    installer,
		log:    log.Sub("droplet"),
	}, nil
}

// Provision creates a droplet named after the agent, waits until it has a
// public address, and runs the SSH install against it. ep.Host's port is
// kept; its host part is only a placeholder until the droplet boots.
func (d *Droplet) Provision(ctx context.Context, ep domain.Endpoint, agent string) error {
	_, port, err := net.SplitHostPort(ep.Host)
	if err != nil {
		return fmt.Errorf("endpoint %q must be host:port: %w", ep.Host, err)
	}

	createRequest := &godo.DropletCreateRequest{
		Name:   "fleet-" + agent,
		Region: d.cfg.Region,
		Size:   d.cfg.Size,
		Image: godo.DropletCreateImage{
			Slug: d.cfg.Image,
		},
		Tags: []string{"fleetd"},
	}
	for _, key := range d.cfg.SSHKeys {
		createRequest.SSHKeys = append(createRequest.SSHKeys, godo.DropletCreateSSHKey{Fingerprint: key})
	}

	droplet, _, err := d.client.Droplets.Create(ctx, createRequest)
	if err != nil {
		return fmt.Errorf("creating droplet for %s: %w", agent, err)
	}
	d.log.Info().Str("agent", agent).Int("droplet", droplet.ID).Msg("droplet created")

	addr, err := d.waitForAddress(ctx, droplet.ID)
	if err != nil {
		return err
	}
	d.log.Info().Str("agent", agent).Str("address", addr).Msg("droplet active")

	return d.ssh.Provision(ctx, domain.Endpoint{
		Host:    net.JoinHostPort(addr, port),
		WorkDir: ep.WorkDir,
	}, agent)
}

func (d *Droplet) waitForAddress(ctx context.Context, dropletID int) (string, error) {
	deadline := time.Now().Add(d.cfg.ActiveWait)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		droplet, _, err := d.client.Droplets.Get(ctx, dropletID)
		if err != nil {
			return "", fmt.Errorf("polling droplet %d: %w", dropletID, err)
		}
		if droplet.Status == "active" {
			if addr, err := droplet.PublicIPv4(); err == nil && addr != "" {
				return addr, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return "", fmt.Errorf("%w: droplet %d", ErrDropletTimeout, dropletID)
}
