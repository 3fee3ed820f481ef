package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}

	if cfg.Gateway.Auth.Credential == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.credential",
			Message: "credential is required",
		})
	}

	if cfg.Fleet.BackoffBase > cfg.Fleet.BackoffMax {
		issues = append(issues, ValidationIssue{
			Path:    "fleet.backoffBase",
			Message: "backoffBase must not exceed backoffMax",
		})
	}

	seen := make(map[string]bool)
	for i, agent := range cfg.Fleet.Agents {
		path := fmt.Sprintf("fleet.agents[%d]", i)
		if agent.Name == "" {
			issues = append(issues, ValidationIssue{Path: path + ".name", Message: "name is required"})
		} else if seen[agent.Name] {
			issues = append(issues, ValidationIssue{Path: path + ".name", Message: "duplicate agent name " + agent.Name})
		}
		seen[agent.Name] = true
		if agent.Host == "" {
			issues = append(issues, ValidationIssue{Path: path + ".host", Message: "host is required"})
		}
	}

	validModes := []string{"none", "ssh", "droplet"}
	if cfg.Provision.Mode != "" && !slices.Contains(validModes, cfg.Provision.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "provision.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validModes, cfg.Provision.Mode),
		})
	}

	if cfg.Provision.Mode == "ssh" || cfg.Provision.Mode == "droplet" {
		if cfg.Provision.SSH.User == "" {
			issues = append(issues, ValidationIssue{
				Path:    "provision.ssh.user",
				Message: "user is required",
			})
		}
		if cfg.Provision.SSH.Password == "" && cfg.Provision.SSH.KeyPath == "" {
			issues = append(issues, ValidationIssue{
				Path:    "provision.ssh",
				Message: "either password or key_path must be set",
			})
		}
	}

	if cfg.Provision.Mode == "droplet" {
		if cfg.Provision.Droplet == nil || cfg.Provision.Droplet.Token == "" {
			issues = append(issues, ValidationIssue{
				Path:    "provision.droplet.token",
				Message: "token is required",
			})
		}
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	return issues
}
