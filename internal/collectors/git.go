package collectors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pipewatch/rca-agent/internal/models"
)

// GitCollector inspects a local checkout of the pipeline repository for
// recent changes that may explain a failure.
type GitCollector struct {
	repoPath      string
	lookbackHours int
	logger        *slog.Logger
}

// NewGitCollector constructs a version-control collector. An empty repoPath
// disables the collector; it then reports absence rather than an error.
func NewGitCollector(repoPath string, lookbackHours int, logger *slog.Logger) *GitCollector {
	if logger == nil {
		logger = slog.Default()
	}
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	return &GitCollector{repoPath: repoPath, lookbackHours: lookbackHours, logger: logger}
}

// Name identifies the collector in reports and error records.
func (c *GitCollector) Name() string { return "git" }

// Collect gathers recent commits and the last change to the pipeline file.
func (c *GitCollector) Collect(ctx context.Context, event models.FailureEvent) SourceResult[*models.VCSContext] {
	if c.repoPath == "" {
		return Absent[*models.VCSContext]()
	}

	since := time.Now().UTC().Add(-time.Duration(c.lookbackHours) * time.Hour)
	commits, err := c.recentCommits(ctx, since, 20)
	if err != nil {
		return Failure[*models.VCSContext](fmt.Errorf("git log: %w", err))
	}

	vcs := &models.VCSContext{RecentCommits: commits}

	if path := c.findPipelineFile(event.PipelineID); path != "" {
		vcs.PipelineFilePath = path
		if commit, err := c.lastCommitForFile(ctx, path); err == nil && commit != nil {
			vcs.LastPipelineCommit = commit
			vcs.HoursSinceLastChange = time.Since(commit.Date).Hours()
		}
	}

	return Ok(vcs)
}

// gitLogFormat uses unit separators so commit subjects with colons parse cleanly.
const gitLogFormat = "%H\x1f%an\x1f%ae\x1f%ct\x1f%s"

func (c *GitCollector) recentCommits(ctx context.Context, since time.Time, maxCount int) ([]models.Commit, error) {
	out, err := c.git(ctx,
		"log",
		fmt.Sprintf("--max-count=%d", maxCount),
		fmt.Sprintf("--since=%s", since.Format(time.RFC3339)),
		"--format="+gitLogFormat,
	)
	if err != nil {
		return nil, err
	}
	return parseCommits(out), nil
}

func (c *GitCollector) lastCommitForFile(ctx context.Context, path string) (*models.Commit, error) {
	out, err := c.git(ctx, "log", "--max-count=1", "--format="+gitLogFormat, "--", path)
	if err != nil {
		return nil, err
	}
	commits := parseCommits(out)
	if len(commits) == 0 {
		return nil, nil
	}
	return &commits[0], nil
}

func (c *GitCollector) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", c.repoPath}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

func parseCommits(out string) []models.Commit {
	var commits []models.Commit
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, "\x1f")
		if len(fields) != 5 {
			continue
		}
		commit := models.Commit{
			SHA:     fields[0],
			Author:  fields[1],
			Email:   fields[2],
			Message: fields[4],
		}
		if len(commit.SHA) >= 7 {
			commit.ShortSHA = commit.SHA[:7]
		} else {
			commit.ShortSHA = commit.SHA
		}
		if epoch, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
			commit.Date = time.Unix(epoch, 0).UTC()
		}
		commits = append(commits, commit)
	}
	return commits
}

// findPipelineFile looks for the pipeline definition by common layout
// conventions relative to the repository root.
func (c *GitCollector) findPipelineFile(pipelineID string) string {
	patterns := []string{
		filepath.Join("dags", pipelineID+".py"),
		filepath.Join("dags", "*", pipelineID+".py"),
		pipelineID + ".py",
		"dag_" + pipelineID + ".py",
		pipelineID + "_dag.py",
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(c.repoPath, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		if rel, err := filepath.Rel(c.repoPath, matches[0]); err == nil {
			if _, statErr := os.Stat(matches[0]); statErr == nil {
				return rel
			}
		}
	}
	return ""
}
