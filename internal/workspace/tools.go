package workspace

import (
	"context"
	"fmt"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/isolation"
	"github.com/agentrt/toolrt/internal/process"
	"github.com/agentrt/toolrt/internal/rtlog"
	"github.com/agentrt/toolrt/internal/session"
)

// Provider wires the workspace tool surface (spec §4.4) onto an mcp.Server
// as native tools, reusing the host's ToolBuilder/ToolRequest/ToolResponse
// machinery the way the teacher's own demo tools do.
type Provider struct {
	sessions     *session.Manager
	processes    *process.Registry
	isolationMgr *isolation.Manager
	log          *rtlog.Logger
}

// NewProvider constructs a workspace provider.
func NewProvider(sessions *session.Manager, processes *process.Registry, isolationMgr *isolation.Manager) *Provider {
	return &Provider{
		sessions:     sessions,
		processes:    processes,
		isolationMgr: isolationMgr,
		log:          rtlog.New("workspace"),
	}
}

func (p *Provider) currentFileManager() (*session.FileManager, string, error) {
	dir, err := p.sessions.GetSessionWorkspaceDir()
	if err != nil {
		return nil, "", err
	}
	fm, err := session.NewFileManager(dir)
	if err != nil {
		return nil, "", err
	}
	return fm, dir, nil
}

// Register attaches every workspace tool to server.
func (p *Provider) Register(server *mcp.Server) {
	server.RegisterTool(
		mcp.NewTool("read_file", "Read a file from the current session workspace, optionally restricted to a line range").
			AddParam("path", "string", "workspace-relative or absolute path", true).
			AddParam("start_line", "integer", "1-based inclusive start line", false).
			AddParam("end_line", "integer", "1-based inclusive end line", false),
		p.handleReadFile,
	)

	server.RegisterTool(
		mcp.NewTool("write_file", "Write or append content to a file in the current session workspace").
			AddParam("path", "string", "workspace-relative or absolute path", true).
			AddParam("content", "string", "content to write", true).
			AddParam("mode", "string", "\"w\" (truncate, default) or \"a\" (append)", false),
		p.handleWriteFile,
	)

	server.RegisterTool(
		mcp.NewTool("list_directory", "List the entries of a directory in the current session workspace").
			AddParam("path", "string", "workspace-relative or absolute path, default \".\"", false),
		p.handleListDirectory,
	)

	server.RegisterTool(
		mcp.NewTool("replace_lines_in_file", "Replace or delete one or more line ranges in a file").
			AddParam("path", "string", "workspace-relative or absolute path", true).
			AddParam("replacements", "array", "array of {start_line, end_line?, new_content?}", true),
		p.handleReplaceLinesInFile,
	)

	server.RegisterTool(
		mcp.NewTool("import_file", "Copy an external file into the current session workspace").
			AddParam("src_abs_path", "string", "absolute path to the source file", true).
			AddParam("dest_rel_path", "string", "workspace-relative destination path", true),
		p.handleImportFile,
	)

	server.RegisterTool(
		mcp.NewTool("execute_shell", "Run a shell command in the current session workspace").
			AddParam("command", "string", "shell command line", true).
			AddParam("timeout", "integer", "timeout in seconds (synchronous only)", false).
			AddParam("working_dir", "string", "working directory, default the session workspace", false).
			AddParam("async", "boolean", "run in the background and return a process id", false),
		p.handleExecuteShell,
	)

	server.RegisterTool(
		mcp.NewTool("export_file", "Copy a workspace file into exports/files with a timestamped name").
			AddParam("path", "string", "workspace-relative path", true).
			AddParam("display_name", "string", "human-facing label, default the path", false),
		p.handleExportFile,
	)

	server.RegisterTool(
		mcp.NewTool("export_zip", "Package one or more workspace files into a deflate-compressed ZIP under exports/packages").
			AddParam("files", "array", "workspace-relative file paths", true).
			AddParam("package_name", "string", "base name for the zip, default \"workspace_export\"", false),
		p.handleExportZip,
	)

	server.RegisterTool(
		mcp.NewTool("poll_process", "Poll a spawned process's status, optionally tailing its stdout").
			AddParam("process_id", "string", "process id returned by execute_shell(async=true)", true).
			AddParam("tail", "integer", "number of trailing stdout lines to include, capped at 100", false),
		p.handlePollProcess,
	)

	server.RegisterTool(
		mcp.NewTool("read_process_output", "Read captured stdout/stderr from a process").
			AddParam("process_id", "string", "process id", true).
			AddParam("stream", "string", "\"stdout\" or \"stderr\"", true).
			AddParam("mode", "string", "\"head\" or \"tail\"", true).
			AddParam("lines", "integer", "number of lines, capped at 100", true),
		p.handleReadProcessOutput,
	)

	server.RegisterTool(
		mcp.NewTool("list_processes", "List processes belonging to the current session").
			AddParam("status_filter", "string", "\"all\", \"running\", or \"finished\", default \"all\"", false),
		p.handleListProcesses,
	)
}

func intPtr(v int, ok bool) *int {
	if !ok {
		return nil
	}
	return &v
}

func (p *Provider) handleReadFile(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	fm, _, err := p.currentFileManager()
	if err != nil {
		return nil, err
	}
	path, err := req.String("path")
	if err != nil {
		return nil, err
	}
	start, startOK := req.Int("start_line")
	end, endOK := req.Int("end_line")

	content, err := ReadFile(fm, path, intPtr(start, startOK == nil), intPtr(end, endOK == nil))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseText(content), nil
}

func (p *Provider) handleWriteFile(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	fm, _, err := p.currentFileManager()
	if err != nil {
		return nil, err
	}
	path, err := req.String("path")
	if err != nil {
		return nil, err
	}
	content, err := req.String("content")
	if err != nil {
		return nil, err
	}
	mode := req.StringOr("mode", "w")

	if err := WriteFile(fm, path, content, mode); err != nil {
		return nil, err
	}
	return mcp.NewToolResponseText(fmt.Sprintf("wrote %d bytes to %s (mode: %s)", len(content), path, mode)), nil
}

func (p *Provider) handleListDirectory(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	fm, _, err := p.currentFileManager()
	if err != nil {
		return nil, err
	}
	path := req.StringOr("path", ".")

	entries, err := ListDirectory(fm, path)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseJSON(entries), nil
}

func (p *Provider) handleReplaceLinesInFile(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	fm, _, err := p.currentFileManager()
	if err != nil {
		return nil, err
	}
	path, err := req.String("path")
	if err != nil {
		return nil, err
	}
	rawReplacements, err := req.ObjectSlice("replacements")
	if err != nil {
		return nil, err
	}

	replacements := make([]LineReplacement, 0, len(rawReplacements))
	for _, raw := range rawReplacements {
		lr := LineReplacement{}
		if v, ok := raw["start_line"]; ok {
			lr.StartLine = toInt(v)
		}
		if v, ok := raw["end_line"]; ok {
			lr.EndLine = toInt(v)
		}
		if v, ok := raw["new_content"]; ok && v != nil {
			if s, ok := v.(string); ok {
				lr.NewContent = s
				lr.HasNewContent = true
			}
		}
		replacements = append(replacements, lr)
	}

	if err := ReplaceLinesInFile(fm, path, replacements); err != nil {
		return nil, err
	}
	return mcp.NewToolResponseText(fmt.Sprintf("replaced lines in %s", path)), nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func (p *Provider) handleImportFile(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	fm, _, err := p.currentFileManager()
	if err != nil {
		return nil, err
	}
	src, err := req.String("src_abs_path")
	if err != nil {
		return nil, err
	}
	dest, err := req.String("dest_rel_path")
	if err != nil {
		return nil, err
	}

	destAbs, err := ImportFile(fm, src, dest)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseText(fmt.Sprintf("imported %s to %s", src, destAbs)), nil
}

func (p *Provider) handleExecuteShell(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	_, workspaceDir, err := p.currentFileManager()
	if err != nil {
		return nil, err
	}
	command, err := req.String("command")
	if err != nil {
		return nil, err
	}
	sessionID := p.sessions.GetCurrentSession()
	workingDir := req.StringOr("working_dir", "")
	async := req.BoolOr("async", false)

	level := isolation.Medium
	if sess, ok := p.sessions.Get(sessionID); ok {
		level = sess.IsolationLevel
	}

	opts := ExecuteShellOptions{
		SessionID:    sessionID,
		WorkspaceDir: workspaceDir,
		Command:      command,
		WorkingDir:   workingDir,
		Level:        level,
	}

	if timeout, err := req.Int("timeout"); err == nil {
		t := uint64(timeout)
		opts.Timeout = &t
	}

	if async {
		id, err := ExecuteShellAsync(p.processes, opts)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResponseStructured(map[string]interface{}{"process_id": id}), nil
	}

	result, err := ExecuteShellSync(p.isolationMgr, opts)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseStructured(map[string]interface{}{
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
	}), nil
}

func (p *Provider) handleExportFile(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	fm, workspaceDir, err := p.currentFileManager()
	if err != nil {
		return nil, err
	}
	path, err := req.String("path")
	if err != nil {
		return nil, err
	}
	displayName := req.StringOr("display_name", "")

	resource, err := ExportFile(fm, workspaceDir, path, displayName)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseMulti(
		mcp.NewToolResponseText(fmt.Sprintf("exported %s to %s", path, resource.RelPath)),
		mcp.NewToolResponseResourceLink(resource.URI, resource.DisplayName),
	), nil
}

func (p *Provider) handleExportZip(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	fm, workspaceDir, err := p.currentFileManager()
	if err != nil {
		return nil, err
	}
	files, err := req.StringSlice("files")
	if err != nil {
		return nil, err
	}
	packageName := req.StringOr("package_name", "")

	resource, err := ExportZip(fm, workspaceDir, files, packageName)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseMulti(
		mcp.NewToolResponseText(fmt.Sprintf("packaged %d file(s) into %s", len(resource.Files), resource.RelPath)),
		mcp.NewToolResponseResourceLink(resource.URI, resource.DisplayName),
	), nil
}

func (p *Provider) handlePollProcess(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	processID, err := req.String("process_id")
	if err != nil {
		return nil, err
	}
	sessionID := p.sessions.GetCurrentSession()

	var tail *int
	if n, err := req.Int("tail"); err == nil {
		tail = &n
	}

	result, tailLines, err := PollProcess(p.processes, processID, sessionID, tail)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{
		"process_id": result.Record.ID,
		"status":     result.Record.Status.String(),
		"pid":        result.Record.PID,
		"exit_code":  result.Record.ExitCode,
	}
	if result.Guidance != "" {
		out["guidance"] = result.Guidance
	}
	if tailLines != nil {
		out["tail"] = tailLines
	}
	return mcp.NewToolResponseStructured(out), nil
}

func (p *Provider) handleReadProcessOutput(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	processID, err := req.String("process_id")
	if err != nil {
		return nil, err
	}
	stream, err := req.String("stream")
	if err != nil {
		return nil, err
	}
	mode, err := req.String("mode")
	if err != nil {
		return nil, err
	}
	lines, err := req.Int("lines")
	if err != nil {
		return nil, err
	}

	sessionID := p.sessions.GetCurrentSession()
	out, err := ReadProcessOutput(p.processes, processID, sessionID, stream, mode, lines)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseJSON(out), nil
}

func (p *Provider) handleListProcesses(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	filter := ProcessStatusFilter(req.StringOr("status_filter", string(StatusFilterAll)))
	sessionID := p.sessions.GetCurrentSession()

	records := ListProcesses(p.processes, sessionID, filter)
	summaries := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, map[string]interface{}{
			"process_id": rec.ID,
			"command":    rec.Command,
			"status":     rec.Status.String(),
			"pid":        rec.PID,
		})
	}
	return mcp.NewToolResponseJSON(summaries), nil
}

// GetServiceContext implements the broker's provider-health sidecar
// protocol (spec §4.4): a short status line plus a structured snapshot.
func (p *Provider) GetServiceContext() ServiceContext {
	sessionID := p.sessions.GetCurrentSession()
	workspaceDir, _ := p.sessions.GetSessionWorkspaceDir()
	return GetServiceContext(p.processes, sessionID, workspaceDir, 11)
}
