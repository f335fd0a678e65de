package mcpserver

// AddRootInput is the input schema for the add_root tool.
type AddRootInput struct {
	Path string `json:"path" jsonschema:"path to the workspace root to index"`
}

// AddRootOutput is the output schema for the add_root tool.
type AddRootOutput struct {
	Success bool   `json:"success"`
	Root    string `json:"root,omitempty"`
}

// RemoveRootInput is the input schema for the remove_root tool.
type RemoveRootInput struct {
	Path string `json:"path" jsonschema:"path of a previously added workspace root"`
}

// RemoveRootOutput is the output schema for the remove_root tool.
type RemoveRootOutput struct {
	Success bool `json:"success"`
}

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"the search query text"`
	RootPath string `json:"root_path" jsonschema:"workspace root to search"`
	Branch   string `json:"branch,omitempty" jsonschema:"branch to search; all known branches are merged if omitted"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"maximum number of results, 1..100, default 10"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

// SearchResultOutput is a single ranked match returned to the client.
type SearchResultOutput struct {
	FilePath      string   `json:"file_path"`
	Content       string   `json:"content"`
	Language      string   `json:"language,omitempty"`
	Branch        string   `json:"branch"`
	LineStart     int      `json:"line_start"`
	LineEnd       int      `json:"line_end"`
	Score         float32  `json:"score"`
	ContextBefore []string `json:"context_before,omitempty"`
	ContextAfter  []string `json:"context_after,omitempty"`
}

// GetStatusInput is the input schema for the get_status tool.
type GetStatusInput struct {
	RootPath string `json:"root_path,omitempty" jsonschema:"workspace root to report on; every tracked root is reported if omitted"`
}

// GetStatusOutput is the output schema for the get_status tool.
type GetStatusOutput struct {
	Roots []RootStatus `json:"roots"`
}

// RootStatus mirrors engine.Stats for one tracked root.
type RootStatus struct {
	Root           string `json:"root"`
	FilesScanned   int    `json:"files_scanned"`
	FilesIndexed   int    `json:"files_indexed"`
	ChunksCreated  int    `json:"chunks_created"`
	ChunksEmbedded int    `json:"chunks_embedded"`
	Errors         int    `json:"errors"`
	CurrentFile    string `json:"current_file,omitempty"`
	QueueSize      int    `json:"queue_size"`
	CurrentBranch  string `json:"current_branch,omitempty"`
}

// ListRootsInput is the input schema for the list_roots tool (no fields).
type ListRootsInput struct{}

// ListRootsOutput is the output schema for the list_roots tool.
type ListRootsOutput struct {
	Roots []string `json:"roots"`
}
