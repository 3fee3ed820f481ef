package config

import (
	"time"

	"github.com/soyeahso/fleetd/internal/provision"
)

// Config is the root configuration for fleetd.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Fleet     FleetConfig     `yaml:"fleet,omitempty"`
	Provision ProvisionConfig `yaml:"provision,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// GatewayConfig controls the control-plane HTTP server.
type GatewayConfig struct {
	Port int         `yaml:"port,omitempty"`
	Bind string      `yaml:"bind,omitempty"` // "loopback" | "lan"
	Auth GatewayAuth `yaml:"auth,omitempty"`
}

// GatewayAuth configures gateway authentication. The credential doubles
// as the LOGIN secret for command sessions.
type GatewayAuth struct {
	Credential string `yaml:"credential,omitempty"` // supports ${ENV_VAR}
}

// FleetConfig tunes agent connection behavior and optionally names a
// static fleet to register and connect at startup.
type FleetConfig struct {
	BackoffBase   time.Duration `yaml:"backoffBase,omitempty"`
	BackoffMax    time.Duration `yaml:"backoffMax,omitempty"`
	ProvisionWait time.Duration `yaml:"provisionWait,omitempty"`
	Agents        []AgentConfig `yaml:"agents,omitempty"`
}

// AgentConfig describes one pre-provisioned agent.
type AgentConfig struct {
	Name    string `yaml:"name"`
	Host    string `yaml:"host"` // daemon websocket host:port
	WorkDir string `yaml:"workdir,omitempty"`
}

// ProvisionConfig selects and configures the provisioning backend.
type ProvisionConfig struct {
	Mode    string                   `yaml:"mode,omitempty"` // "none" | "ssh" | "droplet"
	SSH     provision.SSHConfig      `yaml:"ssh,omitempty"`
	Droplet *provision.DropletConfig `yaml:"droplet,omitempty"`
}

// StoreConfig configures the standup database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // sqlite file, empty means <home>/data/fleetd.db
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}
