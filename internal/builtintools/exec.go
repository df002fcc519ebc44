// Package builtintools provides the small set of tools moonbotd registers
// for itself at startup: a workspace-confined shell command runner and a
// workspace-confined file reader. Both are adapted from the teacher's
// internal/tools/exec and internal/tools/files packages, reshaped around
// moonmodels.ToolHandler/ToolResultEnvelope instead of the teacher's
// agent.ToolResult, and with the exec tool's input sanitized through
// internal/approvalpolicy before it ever reaches exec.Command.
package builtintools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/moonbotd/moonbotd/internal/approvalpolicy"
	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

const maxOutputBytes = 64 * 1024

// resolver resolves a workspace-relative path and rejects any path that
// escapes root, grounded on the teacher's internal/tools/files.Resolver.
type resolver struct {
	root string
}

func (r resolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := r.root
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}

func errResult(code, message string, start time.Time) moonmodels.ToolResultEnvelope {
	return moonmodels.ToolResultEnvelope{
		OK:    false,
		Error: &moonmodels.ToolResultError{Code: code, Message: message},
		Meta:  moonmodels.ToolResultMeta{DurationMs: time.Since(start).Milliseconds()},
	}
}

// ExecSchema is system.run's JSON Schema input document.
const ExecSchema = `{
  "type": "object",
  "properties": {
    "command": {"type": "string", "description": "Executable name, sanitized against shell metacharacters."},
    "args": {"type": "array", "items": {"type": "string"}, "description": "Command arguments."},
    "cwd": {"type": "string", "description": "Working directory, relative to the workspace root."},
    "timeoutSeconds": {"type": "integer", "minimum": 0, "description": "0 means the runtime's default timeout applies."}
  },
  "required": ["command"]
}`

type execInput struct {
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	Cwd            string   `json:"cwd"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

// NewExecHandler returns a moonmodels.ToolHandler for "system.run": it runs
// a single command synchronously, with its executable and arguments
// sanitized by internal/approvalpolicy and its cwd confined to the
// workspace root (the same confinement the Approval Manager's policy
// enforces for approval decisions — here applied unconditionally, since
// this tool has no process-manager/background-job half to defer to).
func NewExecHandler(workspaceRoot string) moonmodels.ToolHandler {
	res := resolver{root: workspaceRoot}
	return func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
		start := time.Now()
		var in execInput
		if err := json.Unmarshal(input, &in); err != nil {
			return errResult("invalid_input", err.Error(), start), nil
		}

		command, err := approvalpolicy.SanitizeExecutable(in.Command)
		if err != nil {
			return errResult("invalid_input", err.Error(), start), nil
		}
		args, err := approvalpolicy.SanitizeArguments(in.Args)
		if err != nil {
			return errResult("invalid_input", err.Error(), start), nil
		}

		cwd := workspaceRoot
		if in.Cwd != "" {
			resolved, err := res.resolve(in.Cwd)
			if err != nil {
				return errResult("invalid_input", err.Error(), start), nil
			}
			cwd = resolved
		}

		runCtx := ctx
		if in.TimeoutSeconds > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutSeconds)*time.Second)
			defer cancel()
		}

		cmd := exec.CommandContext(runCtx, command, args...)
		cmd.Dir = cwd
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		runErr := cmd.Run()

		truncated := false
		out := stdout.String()
		if len(out) > maxOutputBytes {
			out = out[:maxOutputBytes]
			truncated = true
		}
		errOut := stderr.String()
		if len(errOut) > maxOutputBytes {
			errOut = errOut[:maxOutputBytes]
			truncated = true
		}

		exitCode := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				return errResult("exec_failed", runErr.Error(), start), nil
			}
		}

		return moonmodels.ToolResultEnvelope{
			OK: true,
			Data: map[string]any{
				"stdout":   out,
				"stderr":   errOut,
				"exitCode": exitCode,
			},
			Meta: moonmodels.ToolResultMeta{
				DurationMs: time.Since(start).Milliseconds(),
				Truncated:  truncated,
			},
		}, nil
	}
}

// ReadFileSchema is fs.read's JSON Schema input document.
const ReadFileSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "File path, relative to the workspace root."}
  },
  "required": ["path"]
}`

type readFileInput struct {
	Path string `json:"path"`
}

// NewReadFileHandler returns a moonmodels.ToolHandler for "fs.read": it
// reads one file confined to the workspace root.
func NewReadFileHandler(workspaceRoot string) moonmodels.ToolHandler {
	res := resolver{root: workspaceRoot}
	return func(ctx context.Context, input json.RawMessage, tc moonmodels.ToolContext) (moonmodels.ToolResultEnvelope, error) {
		start := time.Now()
		var in readFileInput
		if err := json.Unmarshal(input, &in); err != nil {
			return errResult("invalid_input", err.Error(), start), nil
		}
		path, err := res.resolve(in.Path)
		if err != nil {
			return errResult("invalid_input", err.Error(), start), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errResult("read_failed", err.Error(), start), nil
		}
		truncated := false
		content := string(data)
		if len(content) > maxOutputBytes {
			content = content[:maxOutputBytes]
			truncated = true
		}
		return moonmodels.ToolResultEnvelope{
			OK:   true,
			Data: map[string]any{"content": content},
			Meta: moonmodels.ToolResultMeta{
				DurationMs: time.Since(start).Milliseconds(),
				Truncated:  truncated,
			},
		}, nil
	}
}
