// Package gitctx resolves project context (git branch, repo root, dirty
// state) for the session_start hook's additional_context. It is a
// read-only trim of the teacher's git automation manager: Chronicle
// observes, it never commits or reverts on the user's behalf.
package gitctx

import (
	"bytes"
	"os/exec"
	"strings"
)

// Info is the best-effort project context resolved for a session.
type Info struct {
	ProjectPath string
	GitBranch   string
	GitCommit   string
	Dirty       bool
}

// Resolve inspects cwd for a git repository and returns whatever it can
// determine. It never returns an error: resolution is always best-effort
// (spec §4.4 — the project-context resolver "never fails the hook").
func Resolve(cwd string) *Info {
	info := &Info{ProjectPath: cwd}

	if !isRepo(cwd) {
		return info
	}

	if out, err := run(cwd, "rev-parse", "--show-toplevel"); err == nil {
		info.ProjectPath = strings.TrimSpace(out)
	}
	if out, err := run(cwd, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.GitBranch = strings.TrimSpace(out)
	}
	if out, err := run(cwd, "rev-parse", "HEAD"); err == nil {
		info.GitCommit = strings.TrimSpace(out)
	}
	if out, err := run(cwd, "status", "--porcelain"); err == nil {
		info.Dirty = strings.TrimSpace(out) != ""
	}

	return info
}

func isRepo(cwd string) bool {
	_, err := exec.Command("git", "-C", cwd, "rev-parse", "--is-inside-work-tree").Output()
	return err == nil
}

func run(cwd string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", cwd}, args...)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}
