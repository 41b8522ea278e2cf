// Package config loads devorg configuration from YAML and the environment.
//
// Precedence (highest to lowest): environment variables, YAML config file,
// hardcoded defaults. Environment variables map DEVORG_SECTION_FIELD to
// section.field when SECTION names a config section (DEVORG_LLM_BASE_URL ->
// llm.base_url); anything else stays a top-level key with its underscores
// (DEVORG_PROJECTS_DIR -> projects_dir).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the full devorg configuration.
type Config struct {
	ProjectsDir string        `koanf:"projects_dir"`
	Log         LogConfig     `koanf:"log"`
	LLM         LLMConfig     `koanf:"llm"`
	Models      ModelsConfig  `koanf:"models"`
	Sandbox     SandboxConfig `koanf:"sandbox"`
	Memory      MemoryConfig  `koanf:"memory"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LLMConfig points at the OpenAI-compatible model host.
type LLMConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
}

// ModelsConfig names the model for each workflow role. Unset roles fall back
// along the chain resolved by Resolve.
type ModelsConfig struct {
	Chairman          string `koanf:"chairman"`
	SoftwareArchitect string `koanf:"software_architect"`
	SoftwareEngineer  string `koanf:"software_dev_engineer"`
	QAAnalyst         string `koanf:"qa_analyst"`
}

// SandboxConfig bounds sandboxed execution.
type SandboxConfig struct {
	Image   string        `koanf:"image"`
	Memory  string        `koanf:"memory"`
	CPUs    string        `koanf:"cpus"`
	Timeout time.Duration `koanf:"timeout"`
}

// MemoryConfig configures the optional episode recorder.
type MemoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	BaseURL string `koanf:"base_url"`
}

// Roles holds the fully resolved model identifier for each workflow role.
// Resolution happens once at run start; nothing downstream consults fallbacks.
type Roles struct {
	Architect string
	Engineer  string
	QA        string
}

// Overrides optionally replaces role models for a single run.
type Overrides struct {
	SoftwareArchitect string `json:"software_architect,omitempty"`
	SoftwareEngineer  string `json:"software_dev_engineer,omitempty"`
	QAAnalyst         string `json:"qa_analyst,omitempty"`
}

// Resolve produces the role-to-model mapping. The architect falls back to the
// chairman model; the engineer and the QA analyst fall back to the architect.
func (m ModelsConfig) Resolve(ov *Overrides) (Roles, error) {
	architect := m.SoftwareArchitect
	if architect == "" {
		architect = m.Chairman
	}
	engineer := m.SoftwareEngineer
	if engineer == "" {
		engineer = architect
	}
	qa := m.QAAnalyst
	if qa == "" {
		qa = architect
	}

	if ov != nil {
		if ov.SoftwareArchitect != "" {
			architect = ov.SoftwareArchitect
		}
		if ov.SoftwareEngineer != "" {
			engineer = ov.SoftwareEngineer
		}
		if ov.QAAnalyst != "" {
			qa = ov.QAAnalyst
		}
	}

	if architect == "" || engineer == "" || qa == "" {
		return Roles{}, fmt.Errorf("no model configured: set models.chairman or per-role models")
	}
	return Roles{Architect: architect, Engineer: engineer, QA: qa}, nil
}

// configSections are the nested sections environment keys split into.
var configSections = map[string]bool{
	"log":     true,
	"llm":     true,
	"models":  true,
	"sandbox": true,
	"memory":  true,
}

// Load reads configuration from the given YAML file (skipped when the path is
// empty or the file does not exist), applies environment overrides, defaults,
// and validation.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	// DEVORG_LLM_BASE_URL -> llm.base_url. The split only happens when the
	// leading token names a section; top-level keys such as projects_dir keep
	// their underscores.
	if err := k.Load(env.Provider("DEVORG_", ".", func(s string) string {
		trimmed := strings.ToLower(strings.TrimPrefix(s, "DEVORG_"))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 2 && configSections[parts[0]] {
			return parts[0] + "." + parts[1]
		}
		return trimmed
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills in values for fields left unset.
func applyDefaults(cfg *Config) {
	if cfg.ProjectsDir == "" {
		cfg.ProjectsDir = "data/dev_projects"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:1234"
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "llm-council-dev-env"
	}
	if cfg.Sandbox.Memory == "" {
		cfg.Sandbox.Memory = "512m"
	}
	if cfg.Sandbox.CPUs == "" {
		cfg.Sandbox.CPUs = "1"
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 5 * time.Minute
	}
	if cfg.Memory.BaseURL == "" {
		cfg.Memory.BaseURL = "http://localhost:8000"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.ProjectsDir == "" {
		return fmt.Errorf("projects_dir must not be empty")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url must not be empty")
	}
	if c.Sandbox.Timeout < 0 {
		return fmt.Errorf("sandbox.timeout must not be negative")
	}
	return nil
}
