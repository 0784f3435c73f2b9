package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/toolgate/toolgate/internal/mcp"
	"github.com/toolgate/toolgate/internal/pool"
)

// hashEmbedder maps texts onto a small deterministic vector space so that
// identical texts align and distinct texts diverge.
type hashEmbedder struct {
	calls  int
	lastIn []string
	failOn string
}

func (e *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.lastIn = texts
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if e.failOn != "" && strings.Contains(text, e.failOn) {
			return nil, errors.New("embed backend unavailable")
		}
		v := make([]float32, 8)
		for j, r := range text {
			v[j%8] += float32(r%13) / 13
		}
		out[i] = v
	}
	return out, nil
}

func origin(server, tool, desc string) mcp.ToolOrigin {
	return mcp.ToolOrigin{
		Tool:   mcp.ToolDescriptor{Name: tool, Description: desc},
		Server: mcp.ServerDescriptor{URL: server, Transport: mcp.TransportSSE},
	}
}

func TestKeyFormat(t *testing.T) {
	got := Key(origin("http://localhost:8080/sse", "fetch_weather", ""))
	want := "http://localhost:8080/sse-fetch_weather"
	if got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestMemoryStoreGetBatchPreservesOrderWithNilMisses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := origin("srv", "a", "first")
	c := origin("srv", "c", "third")
	if err := s.PutBatch(ctx, map[string]mcp.ToolOrigin{Key(a): a, Key(c): c}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetBatch(ctx, []string{Key(c), "srv-missing", Key(a)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("GetBatch returned %d records, want 3", len(got))
	}
	if got[0] == nil || got[0].Tool.Name != "c" {
		t.Errorf("got[0] = %+v, want tool c", got[0])
	}
	if got[1] != nil {
		t.Errorf("got[1] = %+v, want nil for a miss", got[1])
	}
	if got[2] == nil || got[2].Tool.Name != "a" {
		t.Errorf("got[2] = %+v, want tool a", got[2])
	}
}

func TestMemoryStoreScanHonorsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, name := range []string{"a", "b", "c", "d"} {
		o := origin("srv", name, "")
		if err := s.Put(ctx, Key(o), o); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Scan(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Scan(2) returned %d records", len(got))
	}
}

func TestIndexUpsertReplacesVector(t *testing.T) {
	ix := NewIndex()
	ix.Upsert("a", []float32{1, 0})
	ix.Upsert("b", []float32{0, 1})
	ix.Upsert("a", []float32{0, 1})
	if ix.Len() != 2 {
		t.Fatalf("Len = %d after upsert of existing name, want 2", ix.Len())
	}
	// Both now align with the query; ties break by name.
	got := ix.Search([]float32{0, 1}, 2)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Search = %v, want [a b]", got)
	}
}

func TestIndexDeleteRemovesFromResults(t *testing.T) {
	ix := NewIndex()
	ix.Upsert("a", []float32{1, 0})
	ix.Upsert("b", []float32{0.9, 0.1})
	ix.Upsert("c", []float32{0, 1})
	ix.Delete("a")
	got := ix.Search([]float32{1, 0}, 3)
	for _, name := range got {
		if name == "a" {
			t.Fatalf("deleted entry still in results: %v", got)
		}
	}
	if ix.Len() != 2 {
		t.Fatalf("Len = %d after delete, want 2", ix.Len())
	}
}

func TestIndexSearchRanksBySimilarity(t *testing.T) {
	ix := NewIndex()
	ix.Upsert("north", []float32{0, 1})
	ix.Upsert("east", []float32{1, 0})
	ix.Upsert("northeast", []float32{1, 1})
	got := ix.Search([]float32{0.1, 1}, 2)
	if len(got) != 2 || got[0] != "north" || got[1] != "northeast" {
		t.Fatalf("Search = %v, want [north northeast]", got)
	}
}

func TestAddToolThenQuery(t *testing.T) {
	ctx := context.Background()
	emb := &hashEmbedder{}
	cat := New(NewMemoryStore(), emb)
	weather := origin("http://w/sse", "fetch_weather", "look up the weather forecast for a city")
	if err := cat.AddTool(ctx, weather); err != nil {
		t.Fatal(err)
	}
	got, err := cat.QueryTools(ctx, "look up the weather forecast for a city", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Tool.Name != "fetch_weather" {
		t.Fatalf("QueryTools = %+v, want fetch_weather", got)
	}
	if !strings.HasSuffix(emb.lastIn[0], "Additionally, any relevant connection tools") {
		t.Errorf("query embedding text missing connection-tools suffix: %q", emb.lastIn[0])
	}
}

func TestQueryToolsDefaultLimit(t *testing.T) {
	ctx := context.Background()
	cat := New(NewMemoryStore(), &hashEmbedder{})
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		if err := cat.AddTool(ctx, origin("srv", name, "tool "+name)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := cat.QueryTools(ctx, "anything", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultQueryLimit {
		t.Fatalf("QueryTools default limit returned %d, want %d", len(got), DefaultQueryLimit)
	}
}

func TestAddToolKeepsSameNameFromBothServers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cat := New(store, &hashEmbedder{})
	first := origin("http://a/sse", "search", "search server a")
	second := origin("http://b/sse", "search", "search server b")
	if err := cat.AddTool(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := cat.AddTool(ctx, second); err != nil {
		t.Fatal(err)
	}
	all, err := cat.ListTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("ListTools = %+v, want one record per server", all)
	}
	if all[0].Server.URL != "http://a/sse" || all[1].Server.URL != "http://b/sse" {
		t.Errorf("ListTools order = %q, %q", all[0].Server.URL, all[1].Server.URL)
	}
	records, err := store.Scan(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("store holds %d records, want 2 compound-keyed records", len(records))
	}
	got, err := cat.QueryTools(ctx, "search server", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("QueryTools = %+v, want both origins", got)
	}
}

func TestAddToolSameServerReplacesRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cat := New(store, &hashEmbedder{})
	if err := cat.AddTool(ctx, origin("srv", "echo", "v1")); err != nil {
		t.Fatal(err)
	}
	if err := cat.AddTool(ctx, origin("srv", "echo", "v2")); err != nil {
		t.Fatal(err)
	}
	all, _ := cat.ListTools(ctx)
	if len(all) != 1 || all[0].Tool.Description != "v2" {
		t.Fatalf("ListTools = %+v, want single replaced record", all)
	}
	if records, _ := store.Scan(ctx, 0); len(records) != 1 {
		t.Fatalf("store holds %d records after re-add", len(records))
	}
}

func TestAddServerRegistersEnumeratedTools(t *testing.T) {
	ctx := context.Background()
	cat := New(NewMemoryStore(), &hashEmbedder{}, WithConnector(
		func(_ context.Context, _ mcp.ServerDescriptor) ([]mcp.ToolDescriptor, error) {
			return []mcp.ToolDescriptor{
				{Name: "read_file", Description: "read a file"},
				{Name: "write_file", Description: "write a file"},
			}, nil
		},
	))
	added, err := cat.AddServer(ctx, mcp.ServerDescriptor{URL: "http://fs/sse", Transport: mcp.TransportSSE})
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 {
		t.Fatalf("AddServer added %d tools, want 2", len(added))
	}
	all, _ := cat.ListTools(ctx)
	if len(all) != 2 {
		t.Fatalf("ListTools after AddServer = %d, want 2", len(all))
	}
}

func TestAddServerReportsPartialProgress(t *testing.T) {
	ctx := context.Background()
	emb := &hashEmbedder{failOn: "bad_tool"}
	cat := New(NewMemoryStore(), emb, WithConnector(
		func(_ context.Context, _ mcp.ServerDescriptor) ([]mcp.ToolDescriptor, error) {
			return []mcp.ToolDescriptor{
				{Name: "good_tool", Description: "works"},
				{Name: "bad_tool", Description: "fails to embed"},
			}, nil
		},
	))
	added, err := cat.AddServer(ctx, mcp.ServerDescriptor{URL: "http://x/sse", Transport: mcp.TransportSSE})
	if err == nil {
		t.Fatal("AddServer should surface the embed failure")
	}
	if len(added) != 1 || added[0].Name != "good_tool" {
		t.Fatalf("AddServer partial progress = %+v, want [good_tool]", added)
	}
}

func TestDeleteToolUnknownNameErrors(t *testing.T) {
	ctx := context.Background()
	cat := New(NewMemoryStore(), &hashEmbedder{})
	if _, err := cat.DeleteTool(ctx, "nope"); err == nil {
		t.Fatal("DeleteTool of unknown name should error")
	}
}

func TestDeleteToolRemovesEverywhere(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cat := New(store, &hashEmbedder{})
	o := origin("srv", "gone", "to be removed")
	if err := cat.AddTool(ctx, o); err != nil {
		t.Fatal(err)
	}
	removed, err := cat.DeleteTool(ctx, "gone")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].Server.URL != "srv" {
		t.Fatalf("DeleteTool returned %+v", removed)
	}
	if all, _ := cat.ListTools(ctx); len(all) != 0 {
		t.Fatalf("ListTools after delete = %+v", all)
	}
	if recs, _ := store.Scan(ctx, 0); len(recs) != 0 {
		t.Fatalf("store still holds %d records", len(recs))
	}
	got, err := cat.QueryTools(ctx, "to be removed", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("QueryTools after delete = %+v", got)
	}
}

func TestDeleteToolRemovesRecordsFromEveryServer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cat := New(store, &hashEmbedder{})
	if err := cat.AddTool(ctx, origin("http://a/sse", "search", "a")); err != nil {
		t.Fatal(err)
	}
	if err := cat.AddTool(ctx, origin("http://b/sse", "search", "b")); err != nil {
		t.Fatal(err)
	}
	removed, err := cat.DeleteTool(ctx, "search")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("DeleteTool removed %d records, want 2", len(removed))
	}
	if recs, _ := store.Scan(ctx, 0); len(recs) != 0 {
		t.Fatalf("store still holds %d records", len(recs))
	}
}

type fakeConn struct {
	tools  []mcp.ToolDescriptor
	closed bool
}

func (f *fakeConn) ListTools(context.Context) ([]mcp.ToolDescriptor, error) { return f.tools, nil }
func (f *fakeConn) Close() error                                            { f.closed = true; return nil }

func TestPooledConnectorReusesConnection(t *testing.T) {
	ctx := context.Background()
	p := pool.New(pool.Options{})
	t.Cleanup(p.Clear)
	dials := 0
	connect := pooledConnector(p, func(_ context.Context, _ mcp.ServerDescriptor) (pool.Client, error) {
		dials++
		return &fakeConn{tools: []mcp.ToolDescriptor{{Name: "read_file"}}}, nil
	})
	srv := mcp.ServerDescriptor{URL: "http://fs/sse", Transport: mcp.TransportSSE}
	for i := 0; i < 2; i++ {
		tools, err := connect(ctx, srv)
		if err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
		if len(tools) != 1 {
			t.Fatalf("connect %d = %+v", i, tools)
		}
	}
	if dials != 1 {
		t.Errorf("dials = %d, want a single pooled connection", dials)
	}
}

func TestLoadHydratesFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seed := origin("srv", "persisted", "survives restarts")
	if err := store.Put(ctx, Key(seed), seed); err != nil {
		t.Fatal(err)
	}
	emb := &hashEmbedder{}
	cat := New(store, emb)
	if err := cat.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if emb.calls != 1 {
		t.Errorf("Load embedded in %d calls, want one batch", emb.calls)
	}
	got, err := cat.QueryTools(ctx, "survives restarts", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Tool.Name != "persisted" {
		t.Fatalf("QueryTools after Load = %+v", got)
	}
}
