// Package config defines the discriminated configuration file format
// consumed (not interactively produced — that is an out-of-scope
// collaborator per spec.md §1) by both binaries: configuration.type selects
// between ClientConfig and ServerConfig (spec.md §6.2).
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind discriminates a configuration file's payload shape.
type Kind string

const (
	KindClient Kind = "client"
	KindServer Kind = "server"
)

// discriminator is used to sniff "configuration.type" before parsing the
// rest of the file into the concrete shape.
type discriminator struct {
	Configuration struct {
		Type Kind `json:"type"`
	} `json:"configuration"`
}

// ClientConfig holds everything the client state machine (C7) needs: its
// entity id, workspace root, server address, and retry/backoff bounds
// (spec.md §6.4, §4.7).
type ClientConfig struct {
	ClientID     string `json:"client_id"`
	ServerAddr   string `json:"server_addr"`
	WorkspaceDir string `json:"workspace_dir"`
	// RetryTime and RetryLimit are bounded integers in [0,30] (spec.md §4.7).
	RetryTime  int `json:"retry_time"`
	RetryLimit int `json:"retry_limit"`
}

// Validate enforces the [0,30] bounds spec.md §4.7 places on RetryTime and
// RetryLimit.
func (c ClientConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("config: client_id must not be empty")
	}
	if c.RetryTime < 0 || c.RetryTime > 30 {
		return fmt.Errorf("config: retry_time %d out of bounds [0,30]", c.RetryTime)
	}
	if c.RetryLimit < 0 || c.RetryLimit > 30 {
		return fmt.Errorf("config: retry_limit %d out of bounds [0,30]", c.RetryLimit)
	}
	return nil
}

// ServerConfig holds everything the server queue/session (C5/C6) need: its
// entity id, listen address, and the directory to scan for CapCon files.
type ServerConfig struct {
	ServerID  string `json:"server_id"`
	ListenAddr string `json:"listen_addr"`
	CapConDir string `json:"capcon_dir"`
	ArchiveDir string `json:"archive_dir"`
	WorkDir   string `json:"work_dir"`
}

func (c ServerConfig) Validate() error {
	if c.ServerID == "" {
		return fmt.Errorf("config: server_id must not be empty")
	}
	if c.CapConDir == "" {
		return fmt.Errorf("config: capcon_dir must not be empty")
	}
	return nil
}

// LoadClient reads and parses a client configuration file, verifying
// configuration.type == "client".
func LoadClient(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadTyped(path, KindClient, &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, cfg.Validate()
}

// LoadServer reads and parses a server configuration file, verifying
// configuration.type == "server".
func LoadServer(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := loadTyped(path, KindServer, &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, cfg.Validate()
}

func loadTyped(path string, want Kind, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var d discriminator
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("config: invalid JSON in %s: %w", path, err)
	}
	if d.Configuration.Type != want {
		return fmt.Errorf("config: %s has configuration.type %q, expected %q", path, d.Configuration.Type, want)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}
