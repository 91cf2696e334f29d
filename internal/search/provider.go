package search

import (
	"context"
	"fmt"
	"sync"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/session"
)

// ServiceContext mirrors workspace's provider-health sidecar (spec §4.4's
// get_service_context pattern, reused for the search builtin per
// SUPPLEMENTED FEATURES).
type ServiceContext struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	DocCount  int    `json:"doc_count"`
	ToolCount int    `json:"tool_count"`
}

// Provider hosts one BM25 Engine per session behind the two tools spec
// §4.6 exposes to callers: indexing and querying. Engines are created
// lazily and kept for the lifetime of the process; removing a session does
// not drop its engine.
type Provider struct {
	sessions *session.Manager

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewProvider constructs a search Provider bound to sessions.
func NewProvider(sessions *session.Manager) *Provider {
	return &Provider{
		sessions: sessions,
		engines:  make(map[string]*Engine),
	}
}

func (p *Provider) engineFor(sessionID string) *Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.engines[sessionID]
	if !ok {
		e = New(sessionID, MaxDocsFromEnv())
		p.engines[sessionID] = e
	}
	return e
}

// Register wires index_messages and search_messages onto server.
func (p *Provider) Register(server *mcp.Server) {
	server.RegisterTool(
		mcp.NewTool("index_messages", "Upsert chat messages into the current session's search index").
			AddParam("documents", "array", "documents to index, each with id, content, created_at", true),
		p.handleIndexMessages,
	)

	server.RegisterTool(
		mcp.NewTool("search_messages", "Full-text search over the current session's indexed messages").
			AddParam("query", "string", "search query", true).
			AddParam("limit", "integer", "maximum number of results", false),
		p.handleSearchMessages,
	)
}

func (p *Provider) currentSessionID() (string, error) {
	sessionID := p.sessions.GetCurrentSession()
	if sessionID == "" {
		return "", session.ErrNoActiveSession
	}
	return sessionID, nil
}

func (p *Provider) handleIndexMessages(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	sessionID, err := p.currentSessionID()
	if err != nil {
		return nil, err
	}

	rawDocs, err := req.ObjectSlice("documents")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("documents parameter is required")
	}

	docs := make([]Document, 0, len(rawDocs))
	for _, raw := range rawDocs {
		id, _ := raw["id"].(string)
		content, _ := raw["content"].(string)
		var createdAt int64
		switch v := raw["created_at"].(type) {
		case float64:
			createdAt = int64(v)
		case int64:
			createdAt = v
		case int:
			createdAt = int64(v)
		}
		docs = append(docs, Document{ID: id, SessionID: sessionID, Content: content, CreatedAt: createdAt})
	}

	engine := p.engineFor(sessionID)
	engine.AddDocuments(docs)

	return mcp.NewToolResponseStructured(map[string]interface{}{
		"doc_count": engine.DocCount(),
	}), nil
}

func (p *Provider) handleSearchMessages(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	sessionID, err := p.currentSessionID()
	if err != nil {
		return nil, err
	}

	query, err := req.String("query")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("query parameter is required")
	}
	limit := req.IntOr("limit", 10)

	engine := p.engineFor(sessionID)
	results := engine.Search(query, limit)

	return mcp.NewToolResponseStructured(map[string]interface{}{
		"results": results,
	}), nil
}

// GetServiceContext implements the broker's provider-health sidecar
// protocol for the search builtin (spec §4.4, generalized to §4.6).
func (p *Provider) GetServiceContext() ServiceContext {
	sessionID := p.sessions.GetCurrentSession()

	docCount := 0
	if sessionID != "" {
		p.mu.Lock()
		if e, ok := p.engines[sessionID]; ok {
			docCount = e.DocCount()
		}
		p.mu.Unlock()
	}

	return ServiceContext{
		Status:    fmt.Sprintf("search index ready (%d documents)", docCount),
		SessionID: sessionID,
		DocCount:  docCount,
		ToolCount: 2,
	}
}
