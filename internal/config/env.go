package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// Environment variable names. They match the GitHub Action inputs.
const (
	EnvGitHubToken      = "GITHUB_TOKEN"
	EnvGitHubRepository = "GITHUB_REPOSITORY"
	EnvGitHubBaseBranch = "GITHUB_BASE_BRANCH"
	EnvGitHubAPIURL     = "GITHUB_API_URL"
	EnvIssueNumber      = "GITHUB_ISSUE_NUMBER"
	EnvTestFilePath     = "TEST_FILE_PATH"
	EnvTestPrefix       = "TEST_COMMAND_PREFIX"
	EnvPromptPath       = "PROMPT_PATH"
	EnvExamplePatchPath = "EXAMPLE_PATCH_PATH"
	EnvProvider         = "AUTOPILOT_LLM_PROVIDER"
	EnvModel            = "AUTOPILOT_LLM_MODEL"
	EnvJournalPath      = "AUTOPILOT_JOURNAL"
	EnvMetricsTextfile  = "AUTOPILOT_METRICS_TEXTFILE"
)

// env resolves a name against the process environment first and the
// .env file second, so .env never overrides what is already set.
type env struct {
	getenv func(string) string
	dotenv map[string]string
}

func newEnv(fsys afero.Fs, dotenvPath string, getenv func(string) string) (env, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	e := env{getenv: getenv}
	if dotenvPath == "" {
		return e, nil
	}
	f, err := fsys.Open(dotenvPath)
	if errors.Is(err, fs.ErrNotExist) {
		return e, nil
	}
	if err != nil {
		return e, fmt.Errorf("open %s: %w", dotenvPath, err)
	}
	defer func() { _ = f.Close() }()
	e.dotenv, err = godotenv.Parse(f)
	if err != nil {
		return e, fmt.Errorf("parse %s: %w", dotenvPath, err)
	}
	return e, nil
}

func (e env) get(name string) string {
	if v := strings.TrimSpace(e.getenv(name)); v != "" {
		return v
	}
	return strings.TrimSpace(e.dotenv[name])
}

func applyEnv(cfg *Config, e env) error {
	set := func(dst *string, name string) {
		if v := e.get(name); v != "" {
			*dst = v
		}
	}
	set(&cfg.LLM.Provider, EnvProvider)
	set(&cfg.LLM.Model, EnvModel)
	set(&cfg.Forge.Token, EnvGitHubToken)
	set(&cfg.Forge.Repository, EnvGitHubRepository)
	set(&cfg.Forge.BaseBranch, EnvGitHubBaseBranch)
	set(&cfg.Forge.BaseURL, EnvGitHubAPIURL)
	set(&cfg.Target.Path, EnvTestFilePath)
	set(&cfg.Test.CommandPrefix, EnvTestPrefix)
	set(&cfg.Prompt.Path, EnvPromptPath)
	set(&cfg.Prompt.ExamplePatchPath, EnvExamplePatchPath)
	set(&cfg.Journal.Path, EnvJournalPath)
	set(&cfg.Metrics.Textfile, EnvMetricsTextfile)

	if v := e.get(EnvIssueNumber); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", EnvIssueNumber, v)
		}
		cfg.Target.Issue = n
	}
	return nil
}
