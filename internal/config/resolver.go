// Package config resolves marginalia settings from CLI flags, environment
// variables and the YAML config file, tracking where each value came from.
// Precedence: CLI flag > environment > config file > default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLIDBPath  string
	CLILLM     string
	CLIEmbed   string
	CLIAddr    string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath     ResolvedValue `json:"db_path"`
	LLMModel   ResolvedValue `json:"llm_model"`
	EmbedModel ResolvedValue `json:"embed_model"`
	ServerAddr ResolvedValue `json:"server_addr"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	LLM    struct {
		Model string `yaml:"model"` // "provider/model", e.g. "openai/gpt-4o-mini"
	} `yaml:"llm"`
	Embed struct {
		Model string `yaml:"model"` // "provider/model", e.g. "openai/text-embedding-3-small"
	} `yaml:"embed"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".marginalia", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLMModel, cfg.LLM.Model, SourceConfig, path)
		apply(&out.EmbedModel, cfg.Embed.Model, SourceConfig, path)
		apply(&out.ServerAddr, cfg.Server.Addr, SourceConfig, path)
	}

	applyEnv(&out.DBPath, "MARGINALIA_DB_PATH")
	applyEnv(&out.LLMModel, "MARGINALIA_LLM")
	applyEnv(&out.EmbedModel, "MARGINALIA_EMBED")
	applyEnv(&out.ServerAddr, "MARGINALIA_ADDR")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "")
	apply(&out.LLMModel, opts.CLILLM, SourceCLI, "")
	apply(&out.EmbedModel, opts.CLIEmbed, SourceCLI, "")
	apply(&out.ServerAddr, opts.CLIAddr, SourceCLI, "")

	applyDefault(&out.LLMModel, "openai/gpt-4o-mini")
	applyDefault(&out.EmbedModel, "openai/text-embedding-3-small")
	applyDefault(&out.ServerAddr, ":8787")

	return out, nil
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &fileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// apply overwrites the resolved value when the candidate is non-empty.
// Later calls represent higher-precedence sources.
func apply(dst *ResolvedValue, value string, source ValueSource, from string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	dst.Value = value
	dst.Source = source
	dst.From = from
}

func applyEnv(dst *ResolvedValue, name string) {
	apply(dst, os.Getenv(name), SourceEnv, name)
}

func applyDefault(dst *ResolvedValue, value string) {
	if dst.Value == "" {
		dst.Value = value
		dst.Source = SourceDefault
	}
}
