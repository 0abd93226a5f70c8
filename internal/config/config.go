package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	ModeReal       = "REAL"
	ModeSimulation = "SIMULATION"
	ModeSafe       = "SAFE"
)

type Config struct {
	BridgeHost            string   `json:"bridge_host" yaml:"bridge_host"`
	BridgePort            int      `json:"bridge_port" yaml:"bridge_port"`
	ConnectTimeoutSeconds int      `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	ReconnectSeconds      int      `json:"reconnect_seconds" yaml:"reconnect_seconds"`
	StatusIntervalSeconds int      `json:"status_interval_seconds" yaml:"status_interval_seconds"`
	TerminateGraceSeconds int      `json:"terminate_grace_seconds" yaml:"terminate_grace_seconds"`
	AgentCommand          []string `json:"agent_command" yaml:"agent_command"`
	AgentDir              string   `json:"agent_dir" yaml:"agent_dir"`
	HTTPAddr              string   `json:"http_addr" yaml:"http_addr"`
	ClientAgentID         string   `json:"client_agent_id" yaml:"client_agent_id"`
	Tools                 Tools    `json:"tools" yaml:"tools"`
	Chat                  Chat     `json:"chat" yaml:"chat"`
	ProfilesDir           string   `json:"profiles_dir" yaml:"profiles_dir"`
}

type Tools struct {
	ProjectRoot           string `json:"project_root" yaml:"project_root"`
	LogsDir               string `json:"logs_dir" yaml:"logs_dir"`
	ArchiveDir            string `json:"archive_dir" yaml:"archive_dir"`
	ExecutionMode         string `json:"execution_mode" yaml:"execution_mode"`
	AllowAbsolutePaths    bool   `json:"allow_absolute_paths" yaml:"allow_absolute_paths"`
	AllowSystemCommands   bool   `json:"allow_system_commands" yaml:"allow_system_commands"`
	CommandTimeoutSeconds int    `json:"command_timeout_seconds" yaml:"command_timeout_seconds"`
}

type Chat struct {
	Provider     string `json:"provider" yaml:"provider"`
	APIKey       string `json:"api_key" yaml:"api_key"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	Model        string `json:"model" yaml:"model"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	HistoryFile  string `json:"history_file" yaml:"history_file"`
}

func (c *Config) BridgeAddr() string {
	return fmt.Sprintf("%s:%d", c.BridgeHost, c.BridgePort)
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectSeconds) * time.Second
}

func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalSeconds) * time.Second
}

func (c *Config) TerminateGrace() time.Duration {
	return time.Duration(c.TerminateGraceSeconds) * time.Second
}

func (t Tools) CommandTimeout() time.Duration {
	return time.Duration(t.CommandTimeoutSeconds) * time.Second
}

// Load reads the config at path, JSON or YAML by extension. A missing file
// yields the defaults. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Config{
		Tools: Tools{
			AllowAbsolutePaths:  true,
			AllowSystemCommands: true,
		},
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

func applyDefaults(cfg *Config) error {
	if cfg.BridgeHost == "" {
		cfg.BridgeHost = "localhost"
	}
	if cfg.BridgePort <= 0 {
		cfg.BridgePort = 9999
	}
	if cfg.BridgePort > 65535 {
		return fmt.Errorf("bridge_port out of range: %d", cfg.BridgePort)
	}
	if cfg.ConnectTimeoutSeconds <= 0 {
		cfg.ConnectTimeoutSeconds = 2
	}
	if cfg.ReconnectSeconds <= 0 {
		cfg.ReconnectSeconds = 2
	}
	if cfg.StatusIntervalSeconds <= 0 {
		cfg.StatusIntervalSeconds = 5
	}
	if cfg.TerminateGraceSeconds <= 0 {
		cfg.TerminateGraceSeconds = 5
	}
	if len(cfg.AgentCommand) == 0 {
		cfg.AgentCommand = []string{"python", "cdp_agent.py"}
	}
	if cfg.AgentDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("agent_dir is required (and Getwd failed): %w", err)
		}
		cfg.AgentDir = cwd
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = "localhost:8888"
	}
	if cfg.ClientAgentID == "" {
		cfg.ClientAgentID = "GUI"
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = "profiles"
	}

	t := &cfg.Tools
	if t.ProjectRoot == "" {
		t.ProjectRoot = "project_root"
	}
	if t.LogsDir == "" {
		t.LogsDir = "logs"
	}
	if t.ArchiveDir == "" {
		t.ArchiveDir = "archived_states"
	}
	if t.ExecutionMode == "" {
		t.ExecutionMode = ModeReal
	}
	t.ExecutionMode = strings.ToUpper(t.ExecutionMode)
	switch t.ExecutionMode {
	case ModeReal, ModeSimulation, ModeSafe:
	default:
		return fmt.Errorf("unknown execution_mode %q", t.ExecutionMode)
	}
	if t.CommandTimeoutSeconds <= 0 {
		t.CommandTimeoutSeconds = 30
	}

	c := &cfg.Chat
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderGemini
	}
	switch c.Provider {
	case ProviderGemini:
		if c.Model == "" {
			c.Model = "gemini-2.0-flash"
		}
	case ProviderOpenAI:
		if c.Model == "" {
			c.Model = "gpt-4o-mini"
		}
	default:
		return fmt.Errorf("unknown chat provider %q", c.Provider)
	}
	if c.HistoryFile == "" {
		c.HistoryFile = "memory/box_history.json"
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	keys := []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}
	if strings.EqualFold(strings.TrimSpace(cfg.Chat.Provider), ProviderOpenAI) {
		keys = []string{"OPENAI_API_KEY"}
	}
	for _, key := range keys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			cfg.Chat.APIKey = strings.TrimSpace(v)
			break
		}
	}
	if v, ok := lookup("ALLOW_ABSOLUTE_PATHS"); ok {
		cfg.Tools.AllowAbsolutePaths = parseBool(v)
	}
	if v, ok := lookup("ALLOW_SYSTEM_COMMANDS"); ok {
		cfg.Tools.AllowSystemCommands = parseBool(v)
	}
	if v, ok := lookup("TOOL_EXECUTION_MODE"); ok && strings.TrimSpace(v) != "" {
		cfg.Tools.ExecutionMode = strings.TrimSpace(v)
	}
	if v, ok := lookup("CODEBOX_BRIDGE_PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("CODEBOX_BRIDGE_PORT: %w", err)
		}
		cfg.BridgePort = port
	}
	return nil
}

func parseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
