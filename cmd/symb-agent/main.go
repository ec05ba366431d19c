// Command symb-agent is the headless driver for the engine in
// internal/agent, internal/coordination, internal/cost, and
// internal/mcptools/coordination.go. It has no TUI: a run is driven by
// newline-delimited JSON commands on stdin and observed through
// newline-delimited JSON events on stdout, just enough surface to
// start a run, cancel it, and read back accumulated cost — per
// SPEC_FULL.md §6's "minimal stdin/stdout JSON-lines protocol."
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb-agent/internal/agent"
	"github.com/xonecas/symb-agent/internal/config"
	"github.com/xonecas/symb-agent/internal/coordination"
	"github.com/xonecas/symb-agent/internal/cost"
	"github.com/xonecas/symb-agent/internal/delta"
	"github.com/xonecas/symb-agent/internal/eventbus"
	"github.com/xonecas/symb-agent/internal/lsp"
	"github.com/xonecas/symb-agent/internal/mcp"
	"github.com/xonecas/symb-agent/internal/mcptools"
	"github.com/xonecas/symb-agent/internal/message"
	"github.com/xonecas/symb-agent/internal/permission"
	"github.com/xonecas/symb-agent/internal/provider"
	"github.com/xonecas/symb-agent/internal/shell"
	"github.com/xonecas/symb-agent/internal/store"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	configPath := flag.String("config", "", "path to config.toml (defaults to data-dir config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	d, err := newDriver(cfg, creds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing driver: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	d.Serve(os.Stdin, os.Stdout)
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}
	file, err := os.OpenFile(filepath.Join(logDir, "symb-agent.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = filepath.Join(".", "config.toml")
		if dataDir, err := config.DataDir(); err == nil {
			dataDirPath := filepath.Join(dataDir, "config.toml")
			if _, err := os.Stat(dataDirPath); err == nil {
				path = dataDirPath
			}
		}
	}
	return config.Load(path)
}

// clientMsg is one line of input: either a command or a reply to an
// outstanding permission-request event.
type clientMsg struct {
	Cmd       string `json:"cmd"`
	RunID     string `json:"run_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt,omitempty"`

	// permission-response fields.
	RequestID string `json:"request_id,omitempty"`
	Allow     bool   `json:"allow,omitempty"`
	Always    bool   `json:"always,omitempty"`
}

// serverEvent is one line of output.
type serverEvent struct {
	Event     string       `json:"event"`
	RunID     string       `json:"run_id,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Delta     string       `json:"delta,omitempty"`
	ToolName  string       `json:"tool_name,omitempty"`
	ToolID    string       `json:"tool_id,omitempty"`
	IsError   bool         `json:"is_error,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Text      string       `json:"text,omitempty"`
	Error     string       `json:"error,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Signature string       `json:"signature,omitempty"`
	Totals    *cost.Totals `json:"totals,omitempty"`
}

// driver holds every long-lived dependency a run needs: provider,
// proxy, tool catalogue, cost accountant, and the session store. One
// process drives one operator session but may juggle several
// concurrent runs (one per run_id), matching spec.md §5's "multiple
// independent agent loops" model.
type driver struct {
	cfg      *config.Config
	prov     provider.Provider
	proxy    *mcp.Proxy
	tools    []mcp.Tool
	cache    *store.Cache
	lsp      *lsp.Manager
	accounts *cost.Accountant
	modelID  string
	coordRoot string

	out *lineWriter

	mu       sync.Mutex
	runs     map[string]context.CancelFunc
	prompter *stdinPrompter
}

func newDriver(cfg *config.Config, creds *config.Credentials) (*driver, error) {
	registry := provider.NewRegistry()
	for name, pcfg := range cfg.Providers {
		registry.RegisterFactory(name, provider.NewOllamaFactory(name, pcfg.Endpoint))
	}

	name := cfg.DefaultProvider
	if name == "" {
		names := registry.List()
		if len(names) == 0 {
			return nil, fmt.Errorf("no providers configured")
		}
		name = names[0]
	}
	pcfg, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", name)
	}

	prov, err := registry.Create(name, pcfg.Model, provider.Options{Temperature: pcfg.Temperature})
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	root, err := coordination.Root()
	if err != nil {
		return nil, fmt.Errorf("resolving coordination root: %w", err)
	}
	if cfg.Coordination.Root != "" {
		root = cfg.Coordination.Root
	}

	proxy, tools, cache, lspManager, err := setupHeadlessServices(cfg, creds, root, prov)
	if err != nil {
		return nil, err
	}

	table := cost.DefaultTable
	if cfg.Cost.PriceTablePath != "" {
		if override, err := cost.LoadTable(cfg.Cost.PriceTablePath); err != nil {
			log.Warn().Err(err).Str("path", cfg.Cost.PriceTablePath).Msg("symb-agent: failed to load price table override")
		} else {
			table = table.Merge(override)
		}
	}

	return &driver{
		cfg:       cfg,
		prov:      prov,
		proxy:     proxy,
		tools:     tools,
		cache:     cache,
		lsp:       lspManager,
		accounts:  cost.New(table),
		modelID:   pcfg.Model,
		coordRoot: root,
		runs:      make(map[string]context.CancelFunc),
	}, nil
}

// setupHeadlessServices registers the same built-in tool set
// cmd/symb's setupServices does, plus the coordination substrate's
// team/task/inbox tools and spawn_agent, which only make sense in a
// multi-agent-capable driver. Grounded in cmd/symb/main.go's
// setupServices; LSP/tree-sitter wiring that only the TUI consumes
// (diagnostics callbacks, symbol index) is left out.
func setupHeadlessServices(cfg *config.Config, creds *config.Credentials, root string, prov provider.Provider) (*mcp.Proxy, []mcp.Tool, *store.Cache, *lsp.Manager, error) {
	var mcpClient mcp.UpstreamClient
	if cfg.MCP.Upstream != "" {
		mcpClient = mcp.NewClient(cfg.MCP.Upstream)
	}
	proxy := mcp.NewProxy(mcpClient)
	if err := proxy.Initialize(context.Background()); err != nil {
		log.Warn().Err(err).Msg("symb-agent: MCP init failed")
	}

	lspManager := lsp.NewManager()
	fileTracker := mcptools.NewFileReadTracker()

	readHandler := mcptools.NewReadHandler(fileTracker, lspManager)
	proxy.RegisterTool(mcptools.NewReadTool(), readHandler.Handle)
	proxy.RegisterTool(mcptools.NewGrepTool(), mcptools.MakeGrepHandler())
	proxy.RegisterTool(mcptools.NewGlobTool(), mcptools.MakeGlobHandler())
	proxy.RegisterTool(mcptools.NewLsTool(), mcptools.MakeLsHandler())

	cacheDir, err := config.EnsureDataDir()
	var webCache *store.Cache
	if err != nil {
		log.Warn().Err(err).Msg("symb-agent: cache dir failed")
	} else {
		cacheTTL := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
		webCache, err = store.Open(filepath.Join(cacheDir, "cache.db"), cacheTTL)
		if err != nil {
			log.Warn().Err(err).Msg("symb-agent: cache open failed")
			webCache = nil
		}
	}

	var dt *delta.Tracker
	if webCache != nil {
		dt = delta.New(webCache.DB())
	}

	editHandler := mcptools.NewEditHandler(fileTracker, lspManager, dt)
	proxy.RegisterTool(mcptools.NewEditTool(), editHandler.Handle)

	writeHandler := mcptools.NewWriteHandler(dt)
	proxy.RegisterTool(mcptools.NewWriteTool(), writeHandler.Handle)

	proxy.RegisterTool(mcptools.NewWebFetchTool(), mcptools.MakeWebFetchHandler(webCache))

	exaKey := creds.GetAPIKey("exa_ai")
	proxy.RegisterTool(mcptools.NewWebSearchTool(), mcptools.MakeWebSearchHandler(webCache, exaKey, ""))

	sh := shell.New("", shell.DefaultBlockFuncs())
	shellHandler := mcptools.NewShellHandler(sh, dt)
	proxy.RegisterTool(mcptools.NewShellTool(), shellHandler.Handle)

	pad := &mcptools.Scratchpad{}
	proxy.RegisterTool(mcptools.NewTodoWriteTool(), mcptools.MakeTodoWriteHandler(pad))

	for _, reg := range mcptools.CoordinationTools(root) {
		proxy.RegisterTool(reg.Tool, reg.Handler)
	}

	tools, err := proxy.ListTools(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("symb-agent: failed to list tools before SubAgent registration")
		tools = []mcp.Tool{}
	}

	subAgentHandler := mcptools.NewSubAgentHandler(prov, lspManager, dt, sh, webCache, exaKey, tools)
	proxy.RegisterTool(mcptools.NewSubAgentTool(), subAgentHandler.Handle)

	tools, err = proxy.ListTools(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("symb-agent: failed to list tools before spawn_agent registration")
		tools = []mcp.Tool{}
	}

	spawnHandler := mcptools.NewSpawnAgentHandler(root, prov, proxy, tools)
	proxy.RegisterTool(mcptools.NewSpawnAgentTool(), spawnHandler.Handle)

	tools, err = proxy.ListTools(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("symb-agent: failed to list final tool catalogue")
		tools = []mcp.Tool{}
	}

	return proxy, tools, webCache, lspManager, nil
}

func (d *driver) Close() {
	d.proxy.Close()
	d.lsp.StopAll(context.Background())
	if d.cache != nil {
		d.cache.Close()
	}
	d.prov.Close()
}

// lineWriter serializes concurrent writers (multiple in-flight runs,
// each streaming its own deltas) onto one stdout, one JSON object per
// line.
type lineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newLineWriter(w *bufio.Writer) *lineWriter {
	return &lineWriter{w: w}
}

func (lw *lineWriter) emit(evt serverEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Warn().Err(err).Msg("symb-agent: failed to marshal event")
		return
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.w.Write(data)
	lw.w.WriteByte('\n')
	lw.w.Flush()
}

// Serve reads newline-delimited commands from r until EOF, dispatching
// each to its own goroutine (so a long-running start-run doesn't block
// a later cancel or fetch-cost-totals), and writes events to w.
func (d *driver) Serve(r *os.File, w *os.File) {
	d.out = newLineWriter(bufio.NewWriter(w))
	d.prompter = newStdinPrompter(d.out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var wg sync.WaitGroup
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg clientMsg
		if err := json.Unmarshal(line, &msg); err != nil {
			d.out.emit(serverEvent{Event: "error", Error: fmt.Sprintf("invalid command: %v", err)})
			continue
		}

		switch msg.Cmd {
		case "permission-response":
			d.prompter.resolve(msg.RequestID, msg.Allow, msg.Always)
		case "cancel":
			d.cancelRun(msg.RunID)
		case "fetch-cost-totals":
			totals := d.accounts.Totals()
			d.out.emit(serverEvent{Event: "cost-totals", Totals: &totals})
		case "start-run":
			wg.Add(1)
			go func(m clientMsg) {
				defer wg.Done()
				d.startRun(m)
			}(msg)
		default:
			d.out.emit(serverEvent{Event: "error", Error: fmt.Sprintf("unknown cmd %q", msg.Cmd)})
		}
	}
	wg.Wait()
}

func (d *driver) cancelRun(runID string) {
	d.mu.Lock()
	cancel, ok := d.runs[runID]
	d.mu.Unlock()
	if !ok {
		d.out.emit(serverEvent{Event: "error", RunID: runID, Error: "no such run"})
		return
	}
	cancel()
}

// startRun loads (or begins) a session, runs ProcessTurn to completion
// or cancellation, streams bus events out as they arrive, persists the
// resulting history, and emits a terminal run-complete/run-error event.
func (d *driver) startRun(m clientMsg) {
	runID := uuid.NewString()
	sessionID := m.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.runs[runID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.runs, runID)
		d.mu.Unlock()
		cancel()
	}()

	d.out.emit(serverEvent{Event: "run-started", RunID: runID, SessionID: sessionID})

	history := d.loadHistory(sessionID)
	history = append(history, message.Message{
		Role:      message.RoleUser,
		Parts:     []message.Part{message.TextPart{Text: m.Prompt}},
		CreatedAt: time.Now(),
	})

	gate := permission.New(d.prompter)
	bus := eventbus.New()
	done := make(chan struct{})
	go d.drainBus(runID, bus, done)

	opts := agent.Options{
		Provider:      d.prov,
		Proxy:         d.proxy,
		Tools:         d.tools,
		Gate:          gate,
		Bus:           bus,
		ContextBudget: contextBudgetFor(d.cfg),
		ModelID:       d.modelID,
		Cost:          d.accounts,
	}

	updated, final, err := agent.ProcessTurn(ctx, opts, history)
	bus.Close()
	<-done

	if saveErr := d.cache.SaveMessages(sessionID, store.FromAgentMessages(updated[len(history)-1:])); saveErr != nil {
		log.Warn().Err(saveErr).Str("session", sessionID).Msg("symb-agent: failed to persist run history")
	}

	if err != nil {
		d.out.emit(serverEvent{Event: "run-error", RunID: runID, SessionID: sessionID, Error: err.Error()})
		return
	}
	d.out.emit(serverEvent{
		Event:     "run-complete",
		RunID:     runID,
		SessionID: sessionID,
		Text:      final.Text(),
	})
}

// contextBudgetFor returns one conservative default for every provider;
// provider.Model (as listed by provider.Registry.ListAllModels) carries
// no context-length field to read a per-model budget from.
func contextBudgetFor(cfg *config.Config) int {
	return 32000
}

func (d *driver) loadHistory(sessionID string) []message.Message {
	if d.cache == nil {
		return nil
	}
	exists, err := d.cache.SessionExists(sessionID)
	if err != nil || !exists {
		if createErr := d.cache.CreateSession(sessionID); createErr != nil {
			log.Warn().Err(createErr).Str("session", sessionID).Msg("symb-agent: failed to create session")
		}
		return nil
	}
	stored, err := d.cache.LoadMessages(sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("symb-agent: failed to load session history")
		return nil
	}
	return store.ToAgentMessages(stored)
}

// drainBus forwards every bus event as a JSON-lines event, answering
// PermissionRequest events indirectly: the gate's stdinPrompter already
// owns its own request/response bookkeeping, so here we only need to
// surface the observable stream (content, tool activity, completion).
func (d *driver) drainBus(runID string, bus *eventbus.Bus, done chan<- struct{}) {
	defer close(done)
	for evt := range bus.Events {
		switch evt.Type {
		case eventbus.EventContentDelta:
			d.out.emit(serverEvent{Event: "content-delta", RunID: runID, Delta: evt.Content})
		case eventbus.EventReasoningDelta:
			d.out.emit(serverEvent{Event: "reasoning-delta", RunID: runID, Delta: evt.Content})
		case eventbus.EventToolCallStart:
			d.out.emit(serverEvent{Event: "tool-call-start", RunID: runID, ToolID: evt.ToolCallID, ToolName: evt.ToolCallName})
		case eventbus.EventToolCallStop:
			d.out.emit(serverEvent{Event: "tool-call-stop", RunID: runID, ToolID: evt.ToolCallID, ToolName: evt.ToolCallName})
		case eventbus.EventToolResult:
			d.out.emit(serverEvent{Event: "tool-result", RunID: runID, ToolID: evt.ToolCallID, IsError: evt.ToolIsError})
		case eventbus.EventError:
			errText := ""
			if evt.Err != nil {
				errText = evt.Err.Error()
			}
			d.out.emit(serverEvent{Event: "agent-error", RunID: runID, Error: errText})
		case eventbus.EventComplete:
			d.out.emit(serverEvent{Event: "turn-complete", RunID: runID, Reason: string(evt.Reason)})
		}
	}
}

// stdinPrompter implements permission.Prompter by round-tripping a
// permission-request event out over the same JSON-lines stream the
// run's content deltas use, and waiting for a matching
// permission-response command read back in by Serve's dispatch loop.
// This is the one piece of interactive UI this headless driver
// reimplements, since without it every Edit/Write/Shell call would
// have to run NonInteractive.
type stdinPrompter struct {
	out *lineWriter

	mu      sync.Mutex
	pending map[string]chan permResponse
}

type permResponse struct {
	decision permission.Decision
	always   bool
}

func newStdinPrompter(out *lineWriter) *stdinPrompter {
	return &stdinPrompter{out: out, pending: make(map[string]chan permResponse)}
}

func (p *stdinPrompter) Prompt(ctx context.Context, toolName, signature string) (permission.Decision, bool) {
	reqID := uuid.NewString()
	ch := make(chan permResponse, 1)

	p.mu.Lock()
	p.pending[reqID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, reqID)
		p.mu.Unlock()
	}()

	p.out.emit(serverEvent{Event: "permission-request", RequestID: reqID, ToolName: toolName, Signature: signature})

	select {
	case r := <-ch:
		return r.decision, r.always
	case <-ctx.Done():
		return permission.Deny, false
	}
}

func (p *stdinPrompter) resolve(requestID string, allow, always bool) {
	p.mu.Lock()
	ch, ok := p.pending[requestID]
	p.mu.Unlock()
	if !ok {
		return
	}
	decision := permission.Deny
	if allow {
		decision = permission.Allow
	}
	ch <- permResponse{decision: decision, always: always}
}
