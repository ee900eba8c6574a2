package gitctx

import (
	"os"
	"os/exec"
	"testing"
)

func TestResolve_NonRepo(t *testing.T) {
	dir := t.TempDir()
	info := Resolve(dir)
	if info.GitBranch != "" {
		t.Errorf("expected no branch outside a repo, got %q", info.GitBranch)
	}
	if info.ProjectPath != dir {
		t.Errorf("expected ProjectPath to fall back to cwd, got %q", info.ProjectPath)
	}
}

func TestResolve_Repo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t.com",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("commit", "--allow-empty", "-m", "init")

	info := Resolve(dir)
	if info.GitCommit == "" {
		t.Error("expected a commit hash in a repo")
	}
	if info.GitBranch == "" {
		t.Error("expected a branch name in a repo")
	}
}
