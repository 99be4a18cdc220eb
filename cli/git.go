package cli

// This file contains Git integration utilities for retrieving
// repository information.

import (
	"context"
	"os/exec"
	"strings"

	"github.com/perfgo/perfshard/model"
)

// getGitInfo describes the working directory's checkout, or returns nil
// outside a git repository.
func (a *App) getGitInfo(ctx context.Context) *model.Git {
	// Get current commit hash
	output, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		a.logger.Debug().Err(err).Msg("Not recording git information")
		return nil
	}
	info := &model.Git{Commit: strings.TrimSpace(string(output))}

	// Get current branch
	output, err = exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err == nil {
		info.Branch = strings.TrimSpace(string(output))
	}

	return info
}
