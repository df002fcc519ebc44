// Package approvalpolicy implements the Approval Manager (spec §4.4): the
// command allow/deny/CWD policy enforced for the privileged system-execution
// tool, loaded from a JSON policy file or sensible defaults.
package approvalpolicy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Decision is the outcome of evaluating a command against policy.
type Decision struct {
	Approved bool
	Reason   string
}

// Policy is the command-execution policy document (spec §4.4): an ordered
// denylist of regexes checked first, then an allowlist of leading command
// tokens, then a set of allowed CWD prefixes.
type Policy struct {
	Denylist         []string `json:"denylist"`
	Allowlist        []string `json:"allowlist"`
	AllowedCWDPrefix []string `json:"allowedCwdPrefixes"`

	compiledDenylist []*regexp.Regexp
}

// workspaceRootToken is expanded to the runtime's workspace root in each
// AllowedCWDPrefix entry (spec §4.4).
const workspaceRootToken = "$workspaceRoot"

// DefaultPolicy returns the built-in default denylist/allowlist when no
// policy file exists on disk (spec §4.4's minimum denylist set).
func DefaultPolicy() *Policy {
	return &Policy{
		Denylist: []string{
			`rm\s+-rf\s+/(\s|$)`,
			`rm\s+-rf\s+/\*`,
			`curl[^|]*\|\s*(sh|bash)`,
			`wget[^|]*\|\s*(sh|bash)`,
			`sudo\s`,
			`su\s+-`,
			`chmod\s+-R\s+777`,
			`chmod\s+777`,
			`>\s*/dev/(sd|nvme|hd)`,
			`\beval\b`,
			`\bexec\b.*\$\(`,
		},
		Allowlist: []string{
			"git", "npm", "pnpm", "yarn", "go", "python", "python3", "node",
			"ls", "cat", "grep", "find", "echo", "mkdir", "cp", "mv",
		},
		AllowedCWDPrefix: []string{workspaceRootToken},
	}
}

// Load reads a policy document from path, or returns DefaultPolicy if the
// file does not exist.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("read approval policy: %w", err)
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse approval policy %s: %w", path, err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// WriteDefault creates path with the default policy document if it does not
// already exist (spec §4.4's "helper to create a default policy file").
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}
	data, err := json.MarshalIndent(DefaultPolicy(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *Policy) compile() error {
	p.compiledDenylist = make([]*regexp.Regexp, 0, len(p.Denylist))
	for _, pattern := range p.Denylist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid denylist pattern %q: %w", pattern, err)
		}
		p.compiledDenylist = append(p.compiledDenylist, re)
	}
	return nil
}

// Evaluate checks command (the full joined command line), its first token,
// and cwd against the policy (spec §4.4's three rules, denylist first).
// workspaceRoot expands the $workspaceRoot token in AllowedCWDPrefix.
func (p *Policy) Evaluate(command, cwd, workspaceRoot string) Decision {
	if p.compiledDenylist == nil {
		// Evaluate may run on a Policy built directly (e.g. DefaultPolicy())
		// rather than via Load, so compile lazily.
		_ = p.compile()
	}

	for _, re := range p.compiledDenylist {
		if re.MatchString(command) {
			return Decision{Approved: false, Reason: fmt.Sprintf("command matches denylist pattern %q", re.String())}
		}
	}

	firstToken := firstCommandToken(command)
	if !tokenAllowed(firstToken, p.Allowlist) {
		return Decision{Approved: false, Reason: fmt.Sprintf("command %q is not in the allowlist", firstToken)}
	}

	normalizedCWD := filepath.Clean(cwd)
	if !cwdAllowed(normalizedCWD, p.AllowedCWDPrefix, workspaceRoot) {
		return Decision{Approved: false, Reason: fmt.Sprintf("working directory %q is outside allowed prefixes", normalizedCWD)}
	}

	return Decision{Approved: true}
}

func firstCommandToken(command string) string {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func tokenAllowed(token string, allowlist []string) bool {
	if token == "" {
		return false
	}
	base := filepath.Base(token)
	for _, allowed := range allowlist {
		if allowed == "" {
			continue
		}
		if base == allowed || strings.HasPrefix(base, allowed) {
			return true
		}
	}
	return false
}

func cwdAllowed(cwd string, prefixes []string, workspaceRoot string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		expanded := strings.ReplaceAll(prefix, workspaceRootToken, workspaceRoot)
		expanded = filepath.Clean(expanded)
		if cwd == expanded || strings.HasPrefix(cwd, expanded+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
