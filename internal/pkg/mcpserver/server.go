package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/orchestrator"
	"webextract/internal/pkg/search"
)

const (
	serverName    = "webextract"
	serverVersion = "1.0.0"
)

// Backend is the pipeline the tools call into.
type Backend interface {
	Scrape(ctx context.Context, req orchestrator.ScrapeRequest) (*orchestrator.ScrapeResult, error)
	Search(ctx context.Context, req orchestrator.SearchRequest) (*orchestrator.SearchResult, error)
	Research(ctx context.Context, req orchestrator.ResearchRequest) (*orchestrator.ResearchResult, error)
}

// ScrapeInput is the scrape_url argument record.
type ScrapeInput struct {
	URL              string `json:"url" jsonschema:"the page to fetch; a bare domain gets https"`
	ContentLinksOnly *bool  `json:"content_links_only,omitempty" jsonschema:"only number links inside the main content (default true)"`
	MaxLinks         int    `json:"max_links,omitempty" jsonschema:"maximum sources listed, 1 to 500 (default 100)"`
	MaxChars         int    `json:"max_chars,omitempty" jsonschema:"content budget in characters, 100 to 50000"`
	OutputFormat     string `json:"output_format,omitempty" jsonschema:"text or json (default text)"`
}

// SearchInput is the search_web argument record.
type SearchInput struct {
	Query        string `json:"query" jsonschema:"the search query"`
	Engines      string `json:"engines,omitempty" jsonschema:"comma separated SearXNG engines"`
	Categories   string `json:"categories,omitempty" jsonschema:"comma separated SearXNG categories (default general)"`
	Language     string `json:"language,omitempty" jsonschema:"result language code (default en)"`
	SafeSearch   int    `json:"safesearch,omitempty" jsonschema:"0 off, 1 moderate, 2 strict"`
	TimeRange    string `json:"time_range,omitempty" jsonschema:"day, week, month or year"`
	PageNo       int    `json:"pageno,omitempty" jsonschema:"result page, starting at 1"`
	MaxResults   int    `json:"max_results,omitempty" jsonschema:"results returned, 1 to 100 (default 10)"`
	OutputFormat string `json:"output_format,omitempty" jsonschema:"text or json (default text)"`
}

// ResearchInput is the research argument record.
type ResearchInput struct {
	Query        string `json:"query" jsonschema:"the research question"`
	TopN         int    `json:"top_n,omitempty" jsonschema:"how many top results to read, 1 to 10"`
	MaxChars     int    `json:"max_chars,omitempty" jsonschema:"content budget per page in characters"`
	OutputFormat string `json:"output_format,omitempty" jsonschema:"text or json (default text)"`
}

// Server exposes the pipeline as MCP tools.
type Server struct {
	mcpServer *mcp.Server
	backend   Backend
	logger    zerolog.Logger
}

func New(backend Backend, logger zerolog.Logger) *Server {
	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
		backend:   backend,
		logger:    logger.With().Str("component", "mcp").Logger(),
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "scrape_url",
		Description: "Fetch a web page and return its main content with numbered citations and a Sources list.",
	}, s.scrapeHandler)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_web",
		Description: "Search the web through SearXNG and return ranked, classified results.",
	}, s.searchHandler)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "research",
		Description: "Search the web, then read the top results and return their content together.",
	}, s.researchHandler)
	return s
}

// Serve runs the server on stdio until the client disconnects or ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeTransport(ctx, &mcp.StdioTransport{})
}

func (s *Server) ServeTransport(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info().Str("name", serverName).Str("version", serverVersion).Msg("mcp server started")
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return err
}

func (s *Server) scrapeHandler(ctx context.Context, _ *mcp.CallToolRequest, in ScrapeInput) (*mcp.CallToolResult, any, error) {
	res, err := s.backend.Scrape(ctx, orchestrator.ScrapeRequest{
		URL:              in.URL,
		ContentLinksOnly: in.ContentLinksOnly,
		MaxLinks:         in.MaxLinks,
		MaxChars:         in.MaxChars,
		OutputFormat:     in.OutputFormat,
	})
	if err != nil {
		return s.toolError("scrape_url", err), nil, nil
	}
	return textResult(res.Body), nil, nil
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	res, err := s.backend.Search(ctx, orchestrator.SearchRequest{
		Params: search.Params{
			Query:      in.Query,
			Engines:    in.Engines,
			Categories: in.Categories,
			Language:   in.Language,
			SafeSearch: in.SafeSearch,
			TimeRange:  in.TimeRange,
			PageNo:     in.PageNo,
			MaxResults: in.MaxResults,
		},
		OutputFormat: in.OutputFormat,
	})
	if err != nil {
		return s.toolError("search_web", err), nil, nil
	}
	return textResult(res.Body), nil, nil
}

func (s *Server) researchHandler(ctx context.Context, _ *mcp.CallToolRequest, in ResearchInput) (*mcp.CallToolResult, any, error) {
	res, err := s.backend.Research(ctx, orchestrator.ResearchRequest{
		Query:        in.Query,
		TopN:         in.TopN,
		MaxChars:     in.MaxChars,
		OutputFormat: in.OutputFormat,
	})
	if err != nil {
		return s.toolError("research", err), nil, nil
	}
	return textResult(res.Body), nil, nil
}

// Failures go back to the model as tool results it can read, not as
// protocol errors.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	kind := apperr.KindOf(err)
	s.logger.Warn().Err(err).Str("tool", tool).Str("kind", string(kind)).Msg("tool call failed")
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("[%s] %s", kind, apperr.UserMessage(err))}},
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
