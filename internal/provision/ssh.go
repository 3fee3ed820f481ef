// Package provision installs and starts agent daemons on remote hosts.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
)

// ErrNoAuth indicates the SSH config carries neither a password nor a key.
var ErrNoAuth = errors.New("ssh provisioning requires a password or a private key")

// SSHConfig configures how fleetd reaches and installs onto agent hosts.
type SSHConfig struct {
	User          string        `yaml:"user"`
	Port          int           `yaml:"port"`           // sshd port, default 22
	Password      string        `yaml:"password"`       // optional
	KeyPath       string        `yaml:"key_path"`       // optional private key file
	KeyPassphrase string        `yaml:"key_passphrase"` // optional
	DaemonBinary  string        `yaml:"daemon_binary"`  // local fleet-agentd binary to upload
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

// SSH provisions agents over plain SSH: upload the daemon binary into the
// endpoint's working directory and start it listening on the endpoint's
// port.
type SSH struct {
	cfg SSHConfig
	log *logging.Logger
}

// NewSSH validates the config and returns an SSH provisioner.
func NewSSH(cfg SSHConfig, log *logging.Logger) (*SSH, error) {
	if cfg.Password == "" && cfg.KeyPath == "" {
		return nil, ErrNoAuth
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &SSH{cfg: cfg, log: log.Sub("provision")}, nil
}

// Provision installs the agent daemon on ep.Host and starts it in
// ep.WorkDir. The daemon serves its control socket on the port embedded
// in ep.Host; connecting to it afterwards is the caller's job.
func (p *SSH) Provision(ctx context.Context, ep domain.Endpoint, agent string) error {
	host, port, err := net.SplitHostPort(ep.Host)
	if err != nil {
		return fmt.Errorf("endpoint %q must be host:port: %w", ep.Host, err)
	}

	client, err := p.dial(host)
	if err != nil {
		return err
	}
	defer client.Close()

	p.log.Info().Str("agent", agent).Str("host", host).Str("workdir", ep.WorkDir).Msg("installing agent daemon")

	steps := []string{
		fmt.Sprintf("mkdir -p %s", ep.WorkDir),
	}
	for _, cmd := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.run(client, cmd); err != nil {
			return fmt.Errorf("remote %q: %w", cmd, err)
		}
	}

	binPath := ep.WorkDir + "/fleet-agentd"
	if p.cfg.DaemonBinary != "" {
		if err := p.upload(client, p.cfg.DaemonBinary, binPath); err != nil {
			return fmt.Errorf("uploading daemon: %w", err)
		}
		if err := p.run(client, fmt.Sprintf("chmod +x %s", binPath)); err != nil {
			return fmt.Errorf("chmod daemon: %w", err)
		}
	}

	start := fmt.Sprintf(
		"cd %s && nohup %s --name %s --listen :%s >> agentd.log 2>&1 & echo started",
		ep.WorkDir, binPath, agent, port,
	)
	if err := p.run(client, start); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	p.log.Info().Str("agent", agent).Str("host", ep.Host).Msg("agent daemon started")
	return nil
}

func (p *SSH) dial(host string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            p.cfg.User,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.DialTimeout,
	}

	if p.cfg.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(p.cfg.Password))
	}
	if p.cfg.KeyPath != "" {
		key, err := os.ReadFile(p.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		var signer ssh.Signer
		if p.cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(p.cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}

	addr := fmt.Sprintf("%s:%d", host, p.cfg.Port)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", addr, err)
	}
	return client, nil
}

func (p *SSH) run(client *ssh.Client, command string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr

	if err := session.Run(command); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, stderr.String())
		}
		return err
	}
	return nil
}

// upload copies a local file to the remote path over scp's sink protocol.
func (p *SSH) upload(client *ssh.Client, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	w, err := session.StdinPipe()
	if err != nil {
		return err
	}

	if err := session.Start(fmt.Sprintf("scp -t %s", remotePath)); err != nil {
		return err
	}

	fmt.Fprintf(w, "C0755 %d %s\n", len(data), filepath.Base(remotePath))
	w.Write(data)
	fmt.Fprint(w, "\x00")
	w.Close()

	return session.Wait()
}
