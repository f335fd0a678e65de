package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/llmtornado/fskb/internal/engine"
	"github.com/llmtornado/fskb/internal/query"
	"github.com/llmtornado/fskb/internal/store"
	"github.com/llmtornado/fskb/pkg/version"
)

// Server bridges the indexing engine and query engine to the Model
// Context Protocol: one tool per remote verb (add_root, remove_root,
// search, get_status, list_roots) plus per-root resource URIs.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	query  *query.Engine
	store  *store.Store
	logger *slog.Logger

	mu               sync.Mutex
	registeredStats  map[string]bool
	registeredBranch map[string]map[string]bool
}

// NewServer constructs the MCP server and registers its tool surface.
// Resources are registered lazily as roots and branches are discovered,
// since both are added at runtime rather than known up front.
func NewServer(eng *engine.Engine, q *query.Engine, st *store.Store) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if q == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Server{
		engine:           eng,
		query:            q,
		store:            st,
		logger:           slog.Default(),
		registeredStats:  make(map[string]bool),
		registeredBranch: make(map[string]map[string]bool),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "fskb",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_root",
		Description: "Start indexing a workspace root. Returns immediately; the initial scan runs in the background.",
	}, s.handleAddRoot)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_root",
		Description: "Stop tracking a workspace root. Persisted vectors and metadata are left on disk.",
	}, s.handleRemoveRoot)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over an indexed workspace root. Searches the given branch, or every known branch if branch is omitted.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_status",
		Description: "Report indexing progress and counters for one root, or every tracked root if root_path is omitted.",
	}, s.handleGetStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_roots",
		Description: "List every workspace root currently tracked.",
	}, s.handleListRoots)

	s.logger.Debug("registered MCP tools", slog.Int("count", 5))
}

func (s *Server) handleAddRoot(_ context.Context, _ *mcp.CallToolRequest, input AddRootInput) (
	*mcp.CallToolResult, AddRootOutput, error,
) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, AddRootOutput{}, NewInvalidParamsError("path is required")
	}

	if err := s.engine.AddRoot(input.Path); err != nil {
		s.logger.Error("add_root failed", slog.String("path", input.Path), slog.String("error", err.Error()))
		return nil, AddRootOutput{Success: false}, MapError(err)
	}

	s.registerStatsResource(input.Path)
	return nil, AddRootOutput{Success: true, Root: input.Path}, nil
}

func (s *Server) handleRemoveRoot(_ context.Context, _ *mcp.CallToolRequest, input RemoveRootInput) (
	*mcp.CallToolResult, RemoveRootOutput, error,
) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, RemoveRootOutput{}, NewInvalidParamsError("path is required")
	}

	if err := s.engine.RemoveRoot(input.Path); err != nil {
		return nil, RemoveRootOutput{Success: false}, MapError(err)
	}
	return nil, RemoveRootOutput{Success: true}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query is required")
	}
	if strings.TrimSpace(input.RootPath) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("root_path is required")
	}

	opts := query.DefaultOptions()
	if input.TopK > 0 {
		opts.TopK = input.TopK
	}

	var results []query.Result
	var err error
	if input.Branch == "" {
		results, err = s.query.SearchAllBranches(ctx, input.RootPath, input.Query, opts)
	} else {
		results, err = s.query.Search(ctx, input.RootPath, input.Branch, input.Query, opts)
	}
	if err != nil {
		s.logger.Error("search failed", slog.String("root", input.RootPath), slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	s.refreshBranchResources(ctx, input.RootPath)

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultOutput{
			FilePath:      r.FilePath,
			Content:       r.Content,
			Language:      r.Language,
			Branch:        r.Branch,
			LineStart:     r.LineStart,
			LineEnd:       r.LineEnd,
			Score:         r.Score,
			ContextBefore: r.ContextBefore,
			ContextAfter:  r.ContextAfter,
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetStatus(_ context.Context, _ *mcp.CallToolRequest, input GetStatusInput) (
	*mcp.CallToolResult, GetStatusOutput, error,
) {
	roots := []string{input.RootPath}
	if input.RootPath == "" {
		roots = s.engine.ListRoots()
		sort.Strings(roots)
	}

	out := GetStatusOutput{Roots: make([]RootStatus, 0, len(roots))}
	for _, root := range roots {
		stats, ok := s.engine.Stats(root)
		if !ok {
			continue
		}
		out.Roots = append(out.Roots, RootStatus{
			Root:           root,
			FilesScanned:   stats.FilesScanned,
			FilesIndexed:   stats.FilesIndexed,
			ChunksCreated:  stats.ChunksCreated,
			ChunksEmbedded: stats.ChunksEmbedded,
			Errors:         stats.Errors,
			CurrentFile:    stats.CurrentFile,
			QueueSize:      stats.QueueSize,
			CurrentBranch:  stats.CurrentBranch,
		})
	}

	if input.RootPath != "" && len(out.Roots) == 0 {
		return nil, GetStatusOutput{}, NewInvalidParamsError(fmt.Sprintf("root %q is not tracked", input.RootPath))
	}
	return nil, out, nil
}

func (s *Server) handleListRoots(_ context.Context, _ *mcp.CallToolRequest, _ ListRootsInput) (
	*mcp.CallToolResult, ListRootsOutput, error,
) {
	roots := s.engine.ListRoots()
	sort.Strings(roots)
	return nil, ListRootsOutput{Roots: roots}, nil
}

// statsJSON builds the JSON payload for the indexer://<root>/stats resource.
func (s *Server) statsJSON(root string) ([]byte, error) {
	stats, ok := s.engine.Stats(root)
	if !ok {
		return nil, ErrRootNotFound
	}
	return json.MarshalIndent(RootStatus{
		Root:           root,
		FilesScanned:   stats.FilesScanned,
		FilesIndexed:   stats.FilesIndexed,
		ChunksCreated:  stats.ChunksCreated,
		ChunksEmbedded: stats.ChunksEmbedded,
		Errors:         stats.Errors,
		CurrentFile:    stats.CurrentFile,
		QueueSize:      stats.QueueSize,
		CurrentBranch:  stats.CurrentBranch,
	}, "", "  ")
}
