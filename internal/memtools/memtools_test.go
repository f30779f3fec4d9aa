package memtools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/turnloop/internal/memory"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// newTestStore creates a memory.Store in a temp directory for testing.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.New(memory.Config{
		DataDir:          t.TempDir(),
		MaxContentLength: 2000,
		MaxSearchResults: 20,
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func commitDoc(t *testing.T, store *memory.Store, doc memory.Document) memory.Document {
	t.Helper()
	saved, err := store.Commit(context.Background(), doc, 0)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return saved
}

func research(owner, topic, content string) memory.Document {
	return memory.Document{
		Topic:        topic,
		Content:      content,
		ContentTypes: []memory.ContentType{memory.ContentResearch},
		Scope:        memory.ScopeUser,
		Quality:      0.7,
		Owner:        owner,
	}
}

// ─── SaveTool ────────────────────────────────────────────────────────────────

func TestSaveTool_StoresPreferenceAtUserScope(t *testing.T) {
	store := newTestStore(t)
	tool := NewSaveTool(store)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"user_id":  "u1",
		"topic":    "Shopping/Laptops",
		"content":  "prefers 16GB RAM",
		"keywords": "ram, laptop",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}

	text := resultText(res)
	idx := strings.Index(text, "ID: ")
	if idx < 0 {
		t.Fatalf("missing ID in %q", text)
	}
	doc, err := store.Get(context.Background(), strings.TrimSpace(text[idx+4:]))
	if err != nil {
		t.Fatalf("get saved: %v", err)
	}
	if doc.Scope != memory.ScopeUser || doc.Owner != "u1" {
		t.Errorf("scope/owner = %s/%s, want user/u1", doc.Scope, doc.Owner)
	}
	if !doc.HasType(memory.ContentPreference) {
		t.Errorf("types = %v, want preference", doc.ContentTypes)
	}
	if doc.Topic != "shopping/laptops" {
		t.Errorf("topic = %q, want normalized", doc.Topic)
	}
}

func TestSaveTool_RejectsOtherTypes(t *testing.T) {
	tool := NewSaveTool(newTestStore(t))

	res, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"user_id": "u1", "topic": "x", "content": "y", "type": "evidence",
	}))
	if !res.IsError {
		t.Error("expected error for evidence type")
	}

	res, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{"topic": "x", "content": "y"}))
	if !res.IsError {
		t.Error("expected error without user_id")
	}
}

// ─── SearchTool ──────────────────────────────────────────────────────────────

func TestSearchTool_FiltersByOwnerAndType(t *testing.T) {
	store := newTestStore(t)
	commitDoc(t, store, research("u1", "laptops/msi", "MSI GF63 price is $699 at the outlet"))
	commitDoc(t, store, research("u2", "laptops/msi", "MSI GF63 price is $649 somewhere else"))

	tool := NewSearchTool(store)
	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"query":         "GF63 price",
		"user_id":       "u1",
		"content_types": "research",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := resultText(res)
	if !strings.Contains(text, "Found 1 documents") {
		t.Errorf("expected exactly one visible document, got:\n%s", text)
	}
	if !strings.Contains(text, "$699") || strings.Contains(text, "$649") {
		t.Errorf("wrong document surfaced:\n%s", text)
	}
	if !strings.Contains(text, "tokens") {
		t.Errorf("missing token footer:\n%s", text)
	}
}

func TestSearchTool_NavigationHintWhenCapped(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		commitDoc(t, store, research("u1", "laptops", "budget laptop review"))
	}

	res, _ := NewSearchTool(store).Handle(context.Background(), makeReq(map[string]interface{}{
		"query": "laptop", "limit": float64(2), "detail_level": "summary",
	}))
	text := resultText(res)
	if !strings.Contains(text, "Found 2 documents") {
		t.Errorf("expected 2 documents, got:\n%s", text)
	}
	if !strings.Contains(text, "Showing 2 of 3") {
		t.Errorf("expected navigation hint, got:\n%s", text)
	}
}

func TestSearchTool_InvalidFilters(t *testing.T) {
	tool := NewSearchTool(newTestStore(t))

	for _, args := range []map[string]interface{}{
		{"query": "x", "content_types": "gossip"},
		{"query": "x", "scopes": "team"},
	} {
		res, _ := tool.Handle(context.Background(), makeReq(args))
		if !res.IsError {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestSearchTool_NoResults(t *testing.T) {
	res, _ := NewSearchTool(newTestStore(t)).Handle(context.Background(), makeReq(map[string]interface{}{"query": "nothing"}))
	if !strings.Contains(resultText(res), "No documents found") {
		t.Errorf("got %q", resultText(res))
	}
}

// ─── GetTool ─────────────────────────────────────────────────────────────────

func TestGetTool(t *testing.T) {
	store := newTestStore(t)
	doc := commitDoc(t, store, research("u1", "laptops/msi", "full content here"))
	tool := NewGetTool(store)

	res, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{"id": doc.ID}))
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}
	text := resultText(res)
	for _, want := range []string{doc.ID, "full content here", "version: 1", "owner: u1"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}

	res, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{"id": "missing"}))
	if !res.IsError || !strings.Contains(resultText(res), "not found") {
		t.Errorf("expected not found, got %q", resultText(res))
	}
}

// ─── StatsTool ───────────────────────────────────────────────────────────────

func TestStatsTool(t *testing.T) {
	store := newTestStore(t)
	commitDoc(t, store, research("u1", "a", "one"))
	commitDoc(t, store, research("u1", "b", "two"))

	res, _ := NewStatsTool(store).Handle(context.Background(), makeReq(nil))
	text := resultText(res)
	for _, want := range []string{"**Documents**: 2", "user 2", "research 2", "0 active"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

// ─── HistoryTool ─────────────────────────────────────────────────────────────

func TestHistoryTool_ListAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i, q := range []string{"first question", "second question"} {
		record, _ := json.Marshal(map[string]string{"query": q})
		err := store.SaveTurn(ctx, memory.TurnEntry{
			UserID:    "u1",
			Number:    int64(i + 1),
			TraceID:   "trace-" + q[:5],
			Outcome:   "approved",
			Query:     q,
			Summary:   "Q: " + q,
			Record:    record,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("save turn: %v", err)
		}
	}
	tool := NewHistoryTool(store)

	res, _ := tool.Handle(ctx, makeReq(map[string]interface{}{"user_id": "u1"}))
	text := resultText(res)
	first, second := strings.Index(text, "#1"), strings.Index(text, "#2")
	if first < 0 || second < 0 || second > first {
		t.Errorf("expected newest first, got:\n%s", text)
	}

	res, _ = tool.Handle(ctx, makeReq(map[string]interface{}{"user_id": "u1", "number": float64(2)}))
	if !strings.Contains(resultText(res), `"query":"second question"`) {
		t.Errorf("expected full record, got:\n%s", resultText(res))
	}

	res, _ = tool.Handle(ctx, makeReq(map[string]interface{}{"user_id": "u1", "number": float64(9)}))
	if !res.IsError {
		t.Error("expected error for missing turn")
	}

	res, _ = tool.Handle(ctx, makeReq(map[string]interface{}{"user_id": "nobody"}))
	if !strings.Contains(resultText(res), "No turns recorded") {
		t.Errorf("got %q", resultText(res))
	}
}
