// Package permission gates tool execution behind a per-signature
// always-allow cache, a safe-command allow-list, and a timeout-default-deny
// prompt for everything else. It has no teacher analog — the copied repo
// ran every tool unconditionally — so it is built fresh, following the
// teacher's timeout-and-context idiom from internal/mcptools/shell.go and
// its zerolog decision logging from internal/mcp/proxy.go.
package permission

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Decision is the outcome of a permission check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// DefaultTimeout is how long Gate.Check waits for a user decision before
// defaulting to Deny.
const DefaultTimeout = 60 * time.Second

// safeCommands never require a prompt: read-only, side-effect-free
// inspection commands a user would approve on reflex every time.
var safeCommands = map[string]bool{
	"ls": true, "pwd": true, "echo": true, "cat": true,
	"git status": true, "git log": true, "git diff": true,
	"grep": true, "find": true,
}

// Prompter asks the user to decide on a tool call, blocking until they
// answer or ctx is cancelled. Implementations live in the front-end;
// Gate only defines the contract.
type Prompter interface {
	Prompt(ctx context.Context, toolName, signature string) (Decision, alwaysFlag bool)
}

// Gate tracks always-allow signatures and mediates prompts.
type Gate struct {
	mu          sync.Mutex
	alwaysAllow map[string]bool // key: toolName + "\x00" + signature
	prompter    Prompter
	// NonInteractive auto-approves every call that is not already allowed
	// (Gate has no deny rules), for headless/scripted runs.
	NonInteractive bool
}

// New creates a Gate. prompter may be nil only if NonInteractive is set
// true afterward.
func New(prompter Prompter) *Gate {
	return &Gate{
		alwaysAllow: make(map[string]bool),
		prompter:    prompter,
	}
}

// Check decides whether toolName may run with the given salient argument
// (e.g. the shell command string, or the file path for a write). requiresPermission
// is false for tools the registry marks as always-safe (Read, Ls, Grep, Glob) —
// Check short-circuits to Allow in that case without consulting the cache or prompter.
func (g *Gate) Check(ctx context.Context, toolName, signature string, requiresPermission bool) Decision {
	if !requiresPermission {
		return Allow
	}

	if isSafeCommand(toolName, signature) {
		return Allow
	}

	key := toolName + "\x00" + signature
	g.mu.Lock()
	if g.alwaysAllow[key] {
		g.mu.Unlock()
		return Allow
	}
	g.mu.Unlock()

	if g.NonInteractive {
		log.Debug().Str("tool", toolName).Str("signature", signature).Msg("permission: auto-approved (non-interactive)")
		return Allow
	}

	if g.prompter == nil {
		log.Warn().Str("tool", toolName).Msg("permission: no prompter configured, defaulting to deny")
		return Deny
	}

	return g.ask(ctx, toolName, signature, key)
}

func (g *Gate) ask(ctx context.Context, toolName, signature, key string) Decision {
	type answer struct {
		decision Decision
		always   bool
	}
	done := make(chan answer, 1)

	timeoutCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	go func() {
		d, always := g.prompter.Prompt(timeoutCtx, toolName, signature)
		done <- answer{decision: d, always: always}
	}()

	select {
	case a := <-done:
		if a.decision == Allow && a.always {
			g.mu.Lock()
			g.alwaysAllow[key] = true
			g.mu.Unlock()
		}
		log.Info().Str("tool", toolName).Bool("allow", a.decision == Allow).Bool("always", a.always).Msg("permission: decided")
		return a.decision
	case <-timeoutCtx.Done():
		log.Warn().Str("tool", toolName).Msg("permission: prompt timed out, defaulting to deny")
		return Deny
	}
}

// isSafeCommand reports whether a Shell invocation's command matches the
// allow-list of side-effect-free inspection commands. Only the leading
// command token is checked (the first two for a "git <subcommand>" entry)
// so that arguments — "ls -la /tmp", "cat README.md", "git diff HEAD~1" —
// don't defeat the match. Non-Shell tools always fall through to the
// cache/prompt path.
func isSafeCommand(toolName, signature string) bool {
	if toolName != "Shell" {
		return false
	}
	fields := strings.Fields(signature)
	if len(fields) == 0 {
		return false
	}
	if fields[0] == "git" && len(fields) >= 2 {
		if safeCommands[fields[0]+" "+fields[1]] {
			return true
		}
	}
	return safeCommands[fields[0]]
}

// Reset clears the always-allow cache, used between sessions.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alwaysAllow = make(map[string]bool)
}
