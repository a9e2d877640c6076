//go:build mage
// +build mage

package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	_ "modernc.org/sqlite"
)

const binary = "bin/autopilot"

// Build builds the autopilot binary with version information baked in
func Build() error {
	mg.Deps(Vet)

	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "dev"
	}
	commit, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil {
		commit = "unknown"
	}
	ldflags := strings.Join([]string{
		"-s -w",
		"-X main.version=" + version,
		"-X main.commit=" + commit,
		"-X main.buildDate=" + time.Now().UTC().Format(time.RFC3339),
	}, " ")

	fmt.Printf("Building %s (%s)...\n", binary, version)
	return sh.RunV("go", "build", "-o", binary, "-ldflags", ldflags, "./cmd/autopilot")
}

// Test runs the unit tests with the race detector
func Test() error {
	fmt.Println("Running Go tests...")
	return sh.RunV("go", "test", "-race", "-coverprofile=coverage.out", "./...")
}

// Vet runs go vet
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Lint runs golangci-lint when it is installed
func Lint() error {
	if _, err := sh.Output("golangci-lint", "version"); err != nil {
		fmt.Println("golangci-lint not found, skipping")
		return nil
	}
	return sh.RunV("golangci-lint", "run")
}

// CI runs everything the pipeline checks
func CI() {
	mg.SerialDeps(Vet, Lint, Test, Build)
}

// Journal summarizes the session journal named by AUTOPILOT_JOURNAL
func Journal() error {
	path := os.Getenv("AUTOPILOT_JOURNAL")
	if path == "" {
		return fmt.Errorf("set AUTOPILOT_JOURNAL to the journal file")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	for _, table := range []string{"sessions", "runs", "blobs", "events"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		fmt.Printf("  %-9s %d\n", table, n)
	}
	return nil
}

// Clean removes build output
func Clean() error {
	for _, p := range []string{"bin", "coverage.out"} {
		if err := sh.Rm(p); err != nil {
			return err
		}
	}
	return nil
}
