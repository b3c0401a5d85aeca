// Package mcpserver exposes a markdown corpus's query path as an MCP tool
// over stdio, grounded on internal/mcp/server.go and internal/mcp/tools.go.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dreamerlzl/markdown-qa/internal/errs"
	"github.com/dreamerlzl/markdown-qa/internal/index"
	"github.com/dreamerlzl/markdown-qa/internal/llm"
	"github.com/dreamerlzl/markdown-qa/pkg/version"
)

// QueryDocsInput is the query_docs tool's input schema.
type QueryDocsInput struct {
	Question  string  `json:"question" jsonschema:"the question to answer from the indexed documentation"`
	K         int     `json:"k,omitempty" jsonschema:"number of chunks to retrieve, default 5"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"maximum distance for a chunk to be considered relevant, 0 disables filtering"`
}

// QueryDocsOutput is the query_docs tool's output schema.
type QueryDocsOutput struct {
	Answer  string   `json:"answer" jsonschema:"the generated answer"`
	Sources []string `json:"sources" jsonschema:"file paths the answer was drawn from"`
}

// Server wraps an IndexManager's query path and a streaming language
// model behind one MCP tool.
type Server struct {
	mcp       *mcp.Server
	queryPath *index.QueryPath
	manager   *index.Manager
	llm       llm.Provider
	log       *slog.Logger
}

// NewServer builds the MCP server and registers its tools.
func NewServer(manager *index.Manager, queryPath *index.QueryPath, provider llm.Provider, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		manager:   manager,
		queryPath: queryPath,
		llm:       provider,
		log:       log,
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "markdown-qa",
		Version: version.Version,
	}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_docs",
		Description: "Answer a question using the indexed Markdown corpus. Retrieves the most relevant chunks and generates an answer grounded in them.",
	}, s.handleQueryDocs)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "corpus_status",
		Description: "Check whether the Markdown index is ready to answer questions, and how many chunks it holds.",
	}, s.handleCorpusStatus)

	return s
}

// CorpusStatusInput is the corpus_status tool's (empty) input schema.
type CorpusStatusInput struct{}

// CorpusStatusOutput is the corpus_status tool's output schema.
type CorpusStatusOutput struct {
	State      string `json:"state" jsonschema:"ready, updating, notReady, or failedStartup"`
	Count      int    `json:"count" jsonschema:"number of chunks currently indexed"`
	Dimension  int    `json:"dimension" jsonschema:"embedding dimensionality"`
	IsUpdating bool   `json:"is_updating" jsonschema:"true if a refresh is currently in progress"`
}

func (s *Server) handleCorpusStatus(_ context.Context, _ *mcp.CallToolRequest, _ CorpusStatusInput) (*mcp.CallToolResult, CorpusStatusOutput, error) {
	status := s.manager.StatusReport()
	return nil, CorpusStatusOutput{
		State:      status.State,
		Count:      status.Count,
		Dimension:  status.Dimension,
		IsUpdating: status.IsUpdating,
	}, nil
}

func (s *Server) handleQueryDocs(ctx context.Context, _ *mcp.CallToolRequest, input QueryDocsInput) (*mcp.CallToolResult, QueryDocsOutput, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, QueryDocsOutput{}, fmt.Errorf("question parameter is required")
	}

	context_, sources, err := s.queryPath.RetrieveContext(ctx, input.Question, input.K, float32(input.Threshold))
	if err != nil {
		if errs.GetCode(err) == errs.ErrCodeNoRelevantContent {
			return nil, QueryDocsOutput{Answer: "No relevant documentation found for this question.", Sources: nil}, nil
		}
		s.log.Error("query_docs retrieval failed", "error", err)
		return nil, QueryDocsOutput{}, err
	}

	prompt := buildPrompt(input.Question, context_)

	ch, err := s.llm.Stream(ctx, prompt)
	if err != nil {
		s.log.Error("query_docs generation failed", "error", err)
		return nil, QueryDocsOutput{}, err
	}

	var sb strings.Builder
	for chunk := range ch {
		sb.WriteString(chunk)
	}

	return nil, QueryDocsOutput{Answer: sb.String(), Sources: sources}, nil
}

func buildPrompt(question, context_ string) string {
	return fmt.Sprintf(
		"Answer the question using only the context below. If the context does not contain the answer, say so.\n\nContext:\n%s\n\nQuestion: %s\n",
		context_, question,
	)
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("starting MCP server", "transport", "stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.log.Error("MCP server stopped with error", "error", err)
		return err
	}
	s.log.Info("MCP server stopped")
	return nil
}
