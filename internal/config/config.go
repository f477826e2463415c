// Package config loads the bridge runtime configuration. Environment
// variables win; a YAML config file fills in anything the environment
// leaves unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults. The bridge binds loopback only; extensions and the MCP proxy
// both live on the same machine.
const (
	DefaultBind = "127.0.0.1"
	DefaultPort = "8765"
)

type RuntimeConfig struct {
	Bind           string
	Port           string
	Token          string
	StateDir       string
	CommandTimeout time.Duration
	HistoryEnabled bool
}

type FileConfig struct {
	Bind       string `yaml:"bind,omitempty"`
	Port       string `yaml:"port,omitempty"`
	Token      string `yaml:"token,omitempty"`
	StateDir   string `yaml:"stateDir,omitempty"`
	TimeoutSec int    `yaml:"timeoutSec,omitempty"`
	History    *bool  `yaml:"history,omitempty"`
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

func defaultStateDir() string {
	return filepath.Join(homeDir(), ".mcp-eyes")
}

// Load builds the runtime config from the environment, then overlays the
// config file for any value the environment did not set.
func Load() *RuntimeConfig {
	cfg := &RuntimeConfig{
		Bind:           envOr("BRIDGE_BIND", DefaultBind),
		Port:           envOr("BROWSER_BRIDGE_PORT", DefaultPort),
		Token:          os.Getenv("BRIDGE_TOKEN"),
		StateDir:       envOr("BRIDGE_STATE_DIR", defaultStateDir()),
		CommandTimeout: time.Duration(envIntOr("BRIDGE_TIMEOUT_SEC", 30)) * time.Second,
		HistoryEnabled: envBoolOr("BRIDGE_HISTORY", true),
	}

	configPath := envOr("BRIDGE_CONFIG", filepath.Join(defaultStateDir(), "config.yaml"))
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg
	}

	if fc.Bind != "" && os.Getenv("BRIDGE_BIND") == "" {
		cfg.Bind = fc.Bind
	}
	if fc.Port != "" && os.Getenv("BROWSER_BRIDGE_PORT") == "" {
		cfg.Port = fc.Port
	}
	if fc.Token != "" && os.Getenv("BRIDGE_TOKEN") == "" {
		cfg.Token = fc.Token
	}
	if fc.StateDir != "" && os.Getenv("BRIDGE_STATE_DIR") == "" {
		cfg.StateDir = fc.StateDir
	}
	if fc.TimeoutSec > 0 && os.Getenv("BRIDGE_TIMEOUT_SEC") == "" {
		cfg.CommandTimeout = time.Duration(fc.TimeoutSec) * time.Second
	}
	if fc.History != nil && os.Getenv("BRIDGE_HISTORY") == "" {
		cfg.HistoryEnabled = *fc.History
	}

	return cfg
}

func DefaultFileConfig() FileConfig {
	return FileConfig{
		Bind:       DefaultBind,
		Port:       DefaultPort,
		StateDir:   defaultStateDir(),
		TimeoutSec: 30,
	}
}

// HandleConfigCommand implements the `config init|show` subcommand.
func HandleConfigCommand(cfg *RuntimeConfig) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: browser-bridge config <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create default config file")
		fmt.Println("  show    - Show current configuration")
		return
	}

	switch os.Args[2] {
	case "init":
		configPath := filepath.Join(defaultStateDir(), "config.yaml")

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config file already exists at %s\n", configPath)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return
			}
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			fmt.Printf("Error creating directory: %v\n", err)
			os.Exit(1)
		}

		data, _ := yaml.Marshal(DefaultFileConfig())
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file created at %s\n", configPath)

	case "show":
		fmt.Println("Current configuration:")
		fmt.Printf("  Listen:   %s\n", cfg.ListenAddr())
		fmt.Printf("  Token:    %s\n", MaskToken(cfg.Token))
		fmt.Printf("  State:    %s\n", cfg.StateDir)
		fmt.Printf("  Timeout:  %v\n", cfg.CommandTimeout)
		fmt.Printf("  History:  %v\n", cfg.HistoryEnabled)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func MaskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 8 {
		return "***"
	}
	return t[:4] + "..." + t[len(t)-4:]
}
