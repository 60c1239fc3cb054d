package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ToolResult is the outcome of one atlas tool run.
type ToolResult struct {
	Args     []string
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// RunAtlasTool runs `tool <xmlPath> -o <outPath>` and captures its output.
// A zero timeout means no limit beyond ctx.
func RunAtlasTool(ctx context.Context, tool, xmlPath, outPath string, timeout time.Duration) ToolResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{xmlPath, "-o", outPath}
	cmd := exec.CommandContext(ctx, tool, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := ToolResult{
		Args:     append([]string{tool}, args...),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("atlas tool timed out after %s: %w", timeout, err)
		} else {
			err = fmt.Errorf("atlas tool %s: %w", tool, err)
		}
		res.Err = err
	}
	return res
}
