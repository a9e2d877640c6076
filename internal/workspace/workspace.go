// Package workspace is the agent's view of the checked-out project: the
// target test file and the per-run artifacts written next to it.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const specSuffix = "_spec"

// TargetMissingError is returned when the file to optimize does not exist.
type TargetMissingError struct {
	Path string
}

func (e *TargetMissingError) Error() string {
	return fmt.Sprintf("target file %s does not exist", e.Path)
}

// OutsideError is returned for a path that resolves outside the workspace
// root, such as ../other/spec/a_spec.rb.
type OutsideError struct {
	Path string
}

func (e *OutsideError) Error() string {
	return fmt.Sprintf("%s is outside the workspace", e.Path)
}

type Workspace struct {
	fs   *afero.Afero
	root string
}

// New roots a workspace at dir on fsys. Relative paths passed to its methods
// resolve against dir, and no path may leave it.
func New(fsys afero.Fs, dir string) *Workspace {
	if dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}
	return &Workspace{fs: &afero.Afero{Fs: fsys}, root: dir}
}

func (w *Workspace) abs(p string) (string, error) {
	if w.root == "" {
		return p, nil
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(w.root, full)
	}
	rel, err := filepath.Rel(w.root, filepath.Clean(full))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &OutsideError{Path: p}
	}
	return full, nil
}

func (w *Workspace) ReadTarget(p string) (string, error) {
	full, err := w.abs(p)
	if err != nil {
		return "", err
	}
	b, err := w.fs.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &TargetMissingError{Path: p}
		}
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(b), nil
}

// WriteArtifact stores code at the artifact path for run and returns that
// path in the same form (relative or absolute) as target.
func (w *Workspace) WriteArtifact(target string, run int, code string) (string, error) {
	out := ArtifactPath(target, run)
	full, err := w.abs(out)
	if err != nil {
		return "", err
	}
	if err := w.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(out), err)
	}
	if err := w.fs.WriteFile(full, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", out, err)
	}
	return out, nil
}

// ArtifactPath names the candidate file for run alongside target:
// spec/models/user_spec.rb becomes spec/models/user_ai_suggest_2_spec.rb.
// Files without the _spec suffix keep their full stem.
func ArtifactPath(target string, run int) string {
	dir, base := path.Split(filepath.ToSlash(target))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stem = strings.TrimSuffix(stem, specSuffix)
	name := stem + "_ai_suggest_" + strconv.Itoa(run) + specSuffix + ext
	return filepath.FromSlash(dir + name)
}
