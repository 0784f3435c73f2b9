package mcp

import (
	"strings"
	"testing"
)

func TestParseServerSpec(t *testing.T) {
	tests := []struct {
		spec      string
		wantURL   string
		wantTrans Transport
		wantErr   bool
	}{
		{"http://localhost:8080/sse::sse", "http://localhost:8080/sse", TransportSSE, false},
		{"ws://localhost:9000::ws", "ws://localhost:9000", TransportWS, false},
		{"./server.py::stdio", "./server.py", TransportStdio, false},
		// The url part may itself contain "::"; the last separator wins.
		{"http://host::8080/sse::sse", "http://host::8080/sse", TransportSSE, false},
		{"no-separator", "", "", true},
		{"http://x::ftp", "", "", true},
		{"::sse", "", "", true},
		{"http://x::", "", "", true},
	}

	for _, tt := range tests {
		got, err := ParseServerSpec(tt.spec)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseServerSpec(%q): want error, got %+v", tt.spec, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseServerSpec(%q): %v", tt.spec, err)
			continue
		}
		if got.URL != tt.wantURL || got.Transport != tt.wantTrans {
			t.Errorf("ParseServerSpec(%q) = %q/%q, want %q/%q",
				tt.spec, got.URL, got.Transport, tt.wantURL, tt.wantTrans)
		}
	}
}

func TestServerDescriptorID(t *testing.T) {
	d := ServerDescriptor{URL: "http://w", Transport: TransportSSE, AuthToken: "secret"}
	if d.ID() != "http://w::sse" {
		t.Errorf("ID() = %q", d.ID())
	}
	// Auth token is not part of identity.
	other := ServerDescriptor{URL: "http://w", Transport: TransportSSE}
	if d.ID() != other.ID() {
		t.Error("descriptors differing only in auth token should share an ID")
	}
}

func TestToolDescriptorSchema(t *testing.T) {
	var empty ToolDescriptor
	if string(empty.Schema()) != `{"type":"object","properties":{}}` {
		t.Errorf("empty schema fallback = %s", empty.Schema())
	}
	withSchema := ToolDescriptor{InputSchema: []byte(`{"type":"object","properties":{"q":{"type":"string"}}}`)}
	if string(withSchema.Schema()) != string(withSchema.InputSchema) {
		t.Error("non-empty schema must pass through unchanged")
	}
}

func TestResolveStdioCommand(t *testing.T) {
	cmd, args := resolveStdioCommand("/opt/tools/server --flag")
	if cmd != "/opt/tools/server" || len(args) != 1 || args[0] != "--flag" {
		t.Errorf("plain command: got %q %v", cmd, args)
	}

	cmd, args = resolveStdioCommand("api.js")
	if cmd != "node" || len(args) != 1 || args[0] != "api.js" {
		t.Errorf("js script: got %q %v", cmd, args)
	}

	// Python resolves to uv when present, python3 otherwise; both carry the
	// script in the argument list either way.
	cmd, args = resolveStdioCommand("weather.py --port 1")
	if !strings.HasSuffix(cmd, "uv") && cmd != "python3" {
		t.Errorf("py script: unexpected interpreter %q", cmd)
	}
	found := false
	for _, a := range args {
		if a == "weather.py" {
			found = true
		}
	}
	if !found {
		t.Errorf("py script not in args: %v", args)
	}
}

func TestCallResultHasImage(t *testing.T) {
	r := CallResult{Items: []ContentItem{
		{Type: "text", Text: "a"},
		{Type: "image", MIMEType: "image/png"},
	}}
	if !r.HasImage() {
		t.Error("HasImage() should be true")
	}
	if (CallResult{}).HasImage() {
		t.Error("empty result should have no image")
	}
}
