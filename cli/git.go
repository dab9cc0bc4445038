package cli

// This file contains Git integration utilities for retrieving
// repository information.

import (
	"fmt"
	"os/exec"
	"strings"
)

// unknownRevision names batches of source trees that are not git checkouts.
const unknownRevision = "unknown"

func gitRevision(repo string) (string, error) {
	cmd := exec.Command("git", "-C", repo, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("failed to get git commit: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("failed to get git commit: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (a *App) getRevision(repo string) string {
	rev, err := gitRevision(repo)
	if err != nil {
		a.logger.Warn().Err(err).Str("repo", repo).Msg("Could not determine source revision")
		return unknownRevision
	}
	return rev
}
