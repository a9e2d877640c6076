package config

import (
	"github.com/test-prof/autopilot/internal/gitutil"
)

const gitRemote = "origin"

// FillFromGit fills the repository and base branch from the checkout at dir
// when neither the file nor the environment set them. It returns the names
// of the settings it filled.
func (c *Config) FillFromGit(dir string) []string {
	if c.Forge.Repository != "" && c.Forge.BaseBranch != "" {
		return nil
	}
	if !gitutil.IsRepo(dir) {
		return nil
	}
	var filled []string
	if c.Forge.Repository == "" {
		if url, err := gitutil.RemoteURL(dir, gitRemote); err == nil {
			if repo, ok := gitutil.ParseRepository(url); ok {
				c.Forge.Repository = repo
				filled = append(filled, "forge.repository")
			}
		}
	}
	if c.Forge.BaseBranch == "" {
		if branch, err := gitutil.DefaultBranch(dir, gitRemote); err == nil && branch != "" {
			c.Forge.BaseBranch = branch
			filled = append(filled, "forge.base_branch")
		}
	}
	return filled
}
