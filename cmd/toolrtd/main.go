// Command toolrtd is the local tool-execution daemon: it hosts the
// workspace, search, and control builtin providers behind the broker
// (§4.1) and serves them over MCP's HTTP transport, the same handler
// shape the teacher library's own example server uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/paularlott/cli"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/broker"
	"github.com/agentrt/toolrt/internal/config"
	"github.com/agentrt/toolrt/internal/control"
	"github.com/agentrt/toolrt/internal/isolation"
	"github.com/agentrt/toolrt/internal/process"
	"github.com/agentrt/toolrt/internal/rtlog"
	"github.com/agentrt/toolrt/internal/search"
	"github.com/agentrt/toolrt/internal/session"
	"github.com/agentrt/toolrt/internal/workspace"
)

func main() {
	logger := rtlog.New("toolrtd")

	app := &cli.Command{
		Name:  "toolrtd",
		Usage: "local tool-execution runtime for MCP clients",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Value: config.ListenAddr(),
				Usage: "address the MCP HTTP endpoint binds to",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Value: config.DataDir(),
				Usage: "root directory for session workspaces and search indices",
			},
			&cli.IntFlag{
				Name:  "poll-threshold",
				Value: 0,
				Usage: "consecutive running polls before poll_process attaches backoff guidance (overrides TOOLRT_POLL_THRESHOLD)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd.String("listen"), cmd.String("data-dir"), cmd.Int("poll-threshold"), logger)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, listenAddr, dataDir string, pollThresholdFlag int, logger *rtlog.Logger) error {
	pollThreshold := pollThresholdFlag
	if pollThreshold <= 0 {
		threshold, err := config.PollThreshold()
		if err != nil {
			return fmt.Errorf("poll threshold: %w (set --poll-threshold or TOOLRT_POLL_THRESHOLD)", err)
		}
		pollThreshold = threshold
	}

	sessionsDir := dataDir + "/sessions"
	sessions, err := session.NewManager(sessionsDir)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	bootstrapSession, err := sessions.CreateSession(firstSessionID(), false)
	if err != nil {
		return fmt.Errorf("create bootstrap session: %w", err)
	}
	sessions.SetSession(bootstrapSession.ID)

	isolationMgr := isolation.NewManager()
	processes := process.NewRegistry(isolationMgr, pollThreshold)
	go processes.RunRetentionSweeper(ctx, config.RetentionSweepPeriod(), config.ProcessRetentionMaxAge())

	workspaceProvider := workspace.NewProvider(sessions, processes, isolationMgr)
	workspaceServer := mcp.NewServer("toolrt-workspace", "1.0.0")
	workspaceProvider.Register(workspaceServer)

	searchProvider := search.NewProvider(sessions)
	searchServer := mcp.NewServer("toolrt-search", "1.0.0")
	searchProvider.Register(searchServer)

	b := broker.New()
	b.RegisterBuiltin("workspace", workspaceServer)
	b.RegisterBuiltin("search", searchServer)

	// The control provider exposes broker and session lifecycle management
	// as tools in its own right (start_mcp_server, switch_session, ...),
	// the call surface a UI shell drives to operate the runtime.
	controlProvider := control.NewProvider(b, sessions, processes)
	controlServer := mcp.NewServer("toolrt-control", "1.0.0")
	controlProvider.Register(controlServer)
	b.RegisterBuiltin("control", controlServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/workspace", workspaceServer.HandleRequest)
	mux.HandleFunc("/mcp/search", searchServer.HandleRequest)
	mux.HandleFunc("/mcp/control", controlServer.HandleRequest)
	mux.HandleFunc("/mcp/tools", toolListHandler(b))

	logger.Printf("listening addr=%s data_dir=%s poll_threshold=%d", listenAddr, dataDir, pollThreshold)
	server := &http.Server{Addr: listenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		logger.Printf("shutting down")
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// toolListHandler exposes the broker's unified tool catalog (external +
// builtin) as a convenience JSON endpoint, independent of any single
// provider's own MCP handler.
func toolListHandler(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tools := b.ListAllToolsUnified(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err := writeJSON(w, map[string]interface{}{"tools": tools}); err != nil {
			log.Printf("write tool list response: %v", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

func firstSessionID() string {
	if v, ok := os.LookupEnv("TOOLRT_BOOTSTRAP_SESSION_ID"); ok && v != "" {
		return v
	}
	return "default"
}
