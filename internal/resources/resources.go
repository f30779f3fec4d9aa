// Package resources implements MCP resource handlers over the document
// store.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (turnloop://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/memory"
)

const turnPrefix = "turnloop://turns/"

// Store is the part of memory.Store the resources read.
type Store interface {
	Stats(ctx context.Context) (*memory.Stats, error)
	LoadTurn(ctx context.Context, userID string, number int64) (*memory.TurnEntry, error)
}

// Handler manages resource endpoints.
type Handler struct {
	store Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// StatsResource returns the MCP resource definition for store statistics.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		"turnloop://store/stats",
		"Document Store Statistics",
		mcp.WithResourceDescription("Document counts by scope and content type, and active and archived turns"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStats returns store statistics as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, stats)
}

// TurnTemplate returns the MCP resource template for archived turns.
func (h *Handler) TurnTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		turnPrefix+"{user_id}/{number}",
		"Turn Record",
		mcp.WithTemplateDescription("A finished turn: query, outcome, answer and the full record with plans, claims and validations"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleTurn returns one archived turn as JSON.
func (h *Handler) HandleTurn(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	userID, number, err := parseTurnURI(req.Params.URI)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	entry, err := h.store.LoadTurn(ctx, userID, number)
	if errors.Is(err, memory.ErrNotFound) {
		return errorResource(req.Params.URI, fmt.Sprintf("turn %d of %s not found", number, userID)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading turn: %w", err)
	}
	return jsonResource(req.Params.URI, entry)
}

// parseTurnURI splits turnloop://turns/<user>/<n>.
func parseTurnURI(uri string) (string, int64, error) {
	rest, ok := strings.CutPrefix(uri, turnPrefix)
	if !ok {
		return "", 0, fmt.Errorf("not a turn URI: %s", uri)
	}
	i := strings.LastIndex(rest, "/")
	if i <= 0 {
		return "", 0, fmt.Errorf("turn URI needs a user and a number: %s", uri)
	}
	n, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("invalid turn number in %s", uri)
	}
	return rest[:i], n, nil
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
