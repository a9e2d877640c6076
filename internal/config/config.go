// Package config loads run settings from defaults, an optional YAML or JSON
// file, a .env file and the environment, in that order of precedence.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/test-prof/autopilot/internal/identity"
	"github.com/test-prof/autopilot/internal/llm"
	"github.com/test-prof/autopilot/internal/modelmeta"
	"github.com/test-prof/autopilot/internal/prompt"
	"github.com/test-prof/autopilot/internal/providerspec"
	"github.com/test-prof/autopilot/internal/testrun"
)

const (
	DefaultProvider      = "anthropic"
	DefaultModel         = "claude-3-5-sonnet-20240620"
	DefaultMaxTokens     = 8192
	DefaultTemperature   = 0.5
	DefaultRunBudget     = 4
	DefaultCommandPrefix = "bundle exec rspec"
	DefaultBranchPrefix  = "test-prof"
	DefaultForgeURL      = "https://api.github.com"
)

// DefaultProfilingEnv enables TestProf's FactoryProf and RSpecDissect.
var DefaultProfilingEnv = []string{"FPROF=1", "RD_PROF=1"}

type RetryConfig struct {
	MaxAttempts    int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	InitialDelayMS int `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`
	MaxDelayMS     int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

type LLMConfig struct {
	Provider    string      `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string      `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL     string      `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64    `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Retry       RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`

	// APIKey only ever comes from the environment.
	APIKey string `json:"-" yaml:"-"`
}

type ForgeConfig struct {
	BaseURL           string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Repository        string  `json:"repository,omitempty" yaml:"repository,omitempty"`
	BaseBranch        string  `json:"base_branch,omitempty" yaml:"base_branch,omitempty"`
	BranchPrefix      string  `json:"branch_prefix,omitempty" yaml:"branch_prefix,omitempty"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`

	Token string `json:"-" yaml:"-"`
}

type TargetConfig struct {
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Issue   int    `json:"issue,omitempty" yaml:"issue,omitempty"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

type TestConfig struct {
	CommandPrefix string   `json:"command_prefix,omitempty" yaml:"command_prefix,omitempty"`
	Env           []string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir           string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	Shell         string   `json:"shell,omitempty" yaml:"shell,omitempty"`
}

type PromptConfig struct {
	Path             string `json:"path,omitempty" yaml:"path,omitempty"`
	ExamplePatchPath string `json:"example_patch_path,omitempty" yaml:"example_patch_path,omitempty"`
}

type Config struct {
	Version   int          `json:"version,omitempty" yaml:"version,omitempty"`
	RunBudget int          `json:"run_budget,omitempty" yaml:"run_budget,omitempty"`
	LLM       LLMConfig    `json:"llm,omitempty" yaml:"llm,omitempty"`
	Forge     ForgeConfig  `json:"forge,omitempty" yaml:"forge,omitempty"`
	Target    TargetConfig `json:"target,omitempty" yaml:"target,omitempty"`
	Test      TestConfig   `json:"test,omitempty" yaml:"test,omitempty"`
	Prompt    PromptConfig `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	Journal struct {
		Path string `json:"path,omitempty" yaml:"path,omitempty"`
	} `json:"journal,omitempty" yaml:"journal,omitempty"`

	Metrics struct {
		Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty"`
	} `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

type LoadOptions struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// ConfigPath is an optional YAML or JSON file; ".json" selects JSON.
	ConfigPath string
	// DotenvPath is read when present; a missing file is not an error.
	DotenvPath string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// Override runs after the environment is applied, e.g. to apply
	// command-line flags, and before defaults and the API key are resolved.
	Override func(*Config)
}

// Load builds a Config with defaults applied. Callers may adjust fields
// (e.g. from flags) before calling Validate.
func Load(opts LoadOptions) (*Config, error) {
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	var cfg Config
	if opts.ConfigPath != "" {
		b, err := afero.ReadFile(fsys, opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeFile(opts.ConfigPath, b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", opts.ConfigPath, err)
		}
	}

	env, err := newEnv(fsys, opts.DotenvPath, opts.Getenv)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg, env); err != nil {
		return nil, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
	}
	if p, model := modelmeta.Split(cfg.LLM.Model); p != "" {
		cfg.LLM.Provider, cfg.LLM.Model = p, model
	}
	applyDefaults(&cfg)
	if spec, ok := providerspec.Builtin(providerspec.CanonicalProviderKey(cfg.LLM.Provider)); ok {
		cfg.LLM.APIKey = spec.APIKeyFromEnv(env.get)
	}
	return &cfg, nil
}

func decodeFile(path string, b []byte, cfg *Config) error {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := validateSchema(b); err != nil {
			return err
		}
		return decodeJSONStrict(b, cfg)
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc != nil {
		asJSON, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("yaml: %w", err)
		}
		if err := validateSchema(asJSON); err != nil {
			return err
		}
	}
	return decodeYAMLStrict(b, cfg)
}

func decodeJSONStrict(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.RunBudget == 0 {
		cfg.RunBudget = DefaultRunBudget
	}
	if strings.TrimSpace(cfg.LLM.Provider) == "" {
		cfg.LLM.Provider = DefaultProvider
	}
	cfg.LLM.Provider = providerspec.CanonicalProviderKey(cfg.LLM.Provider)
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = DefaultModel
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = DefaultMaxTokens
	}
	if cfg.LLM.Temperature == nil {
		t := DefaultTemperature
		cfg.LLM.Temperature = &t
	}
	if cfg.Forge.BaseURL == "" {
		cfg.Forge.BaseURL = DefaultForgeURL
	}
	if cfg.Forge.BranchPrefix == "" {
		cfg.Forge.BranchPrefix = DefaultBranchPrefix
	}
	if cfg.Target.Pattern == "" {
		cfg.Target.Pattern = identity.DefaultPattern
	}
	if strings.TrimSpace(cfg.Test.CommandPrefix) == "" {
		cfg.Test.CommandPrefix = DefaultCommandPrefix
	}
	if cfg.Test.Env == nil {
		cfg.Test.Env = append([]string{}, DefaultProfilingEnv...)
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.RunBudget < 1 {
		errs = append(errs, fmt.Errorf("run_budget must be at least 1 (got %d)", c.RunBudget))
	}
	if c.Target.Issue < 0 {
		errs = append(errs, fmt.Errorf("issue number must be positive (got %d)", c.Target.Issue))
	}
	if c.Target.Issue == 0 && strings.TrimSpace(c.Target.Path) == "" {
		errs = append(errs, errors.New("either an issue number (GITHUB_ISSUE_NUMBER) or a test file path (TEST_FILE_PATH) must be provided"))
	}

	spec, ok := providerspec.Builtin(providerspec.CanonicalProviderKey(c.LLM.Provider))
	switch {
	case !ok:
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", c.LLM.Provider))
	case strings.TrimSpace(c.LLM.APIKey) == "":
		errs = append(errs, fmt.Errorf("missing API key for provider %s (set one of %s)", spec.Key, strings.Join(spec.DefaultAPIKeyEnv, ", ")))
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive (got %d)", c.LLM.MaxTokens))
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature must be within [0, 2] (got %g)", *t))
	}

	if owner, name, ok := strings.Cut(c.Forge.Repository, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		errs = append(errs, fmt.Errorf("repository must look like owner/name (GITHUB_REPOSITORY, got %q)", c.Forge.Repository))
	}
	if strings.TrimSpace(c.Forge.BaseBranch) == "" {
		errs = append(errs, errors.New("base branch is required (GITHUB_BASE_BRANCH)"))
	}
	if strings.TrimSpace(c.Forge.Token) == "" {
		errs = append(errs, errors.New("forge token is required (GITHUB_TOKEN)"))
	}

	if strings.TrimSpace(c.Prompt.Path) == "" {
		errs = append(errs, errors.New("prompt template path is required (PROMPT_PATH)"))
	}
	if strings.TrimSpace(c.Prompt.ExamplePatchPath) == "" {
		errs = append(errs, errors.New("example patch path is required (EXAMPLE_PATCH_PATH)"))
	}
	for _, kv := range c.Test.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("test.env entry %q is not NAME=value", kv))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) RetryPolicy() llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	if r := c.LLM.Retry; r.MaxAttempts > 0 {
		p.MaxAttempts = uint(r.MaxAttempts)
	}
	if r := c.LLM.Retry; r.InitialDelayMS > 0 {
		p.InitialDelay = time.Duration(r.InitialDelayMS) * time.Millisecond
	}
	if r := c.LLM.Retry; r.MaxDelayMS > 0 {
		p.MaxDelay = time.Duration(r.MaxDelayMS) * time.Millisecond
	}
	return p
}

func (c *Config) TestCommand() testrun.Command {
	return testrun.Command{Env: append([]string{}, c.Test.Env...), Prefix: c.Test.CommandPrefix}
}

type Prompts struct {
	Template    string
	ExampleDiff string
}

// LoadPrompts reads the template and example patch and checks that the
// template only uses placeholders the session can fill.
func (c *Config) LoadPrompts(fsys afero.Fs) (Prompts, error) {
	tmpl, err := afero.ReadFile(fsys, c.Prompt.Path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompt template: %w", err)
	}
	if err := prompt.Check(string(tmpl), prompt.ExampleDiff, prompt.InitialOutput); err != nil {
		return Prompts{}, fmt.Errorf("%s: %w", c.Prompt.Path, err)
	}
	example, err := afero.ReadFile(fsys, c.Prompt.ExamplePatchPath)
	if err != nil {
		return Prompts{}, fmt.Errorf("read example patch: %w", err)
	}
	return Prompts{Template: string(tmpl), ExampleDiff: string(example)}, nil
}
