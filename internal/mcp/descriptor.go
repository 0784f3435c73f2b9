// Package mcp wraps the mcp-go SDK with the descriptor types and the single
// client abstraction the rest of toolgate is built on. A server is identified
// by its spec string "url::transport"; a tool is a value type with no identity
// beyond its name.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Transport selects how a server is reached.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
	TransportWS    Transport = "ws"
)

// specSeparator splits url from transport in a server spec string.
const specSeparator = "::"

// ServerDescriptor identifies one MCP server origin. Immutable once built.
type ServerDescriptor struct {
	URL       string    `json:"url"`
	Transport Transport `json:"type"`
	AuthToken string    `json:"authToken,omitempty"`
}

// ParseServerSpec parses a "url::transport" spec string.
// The url part is opaque: an HTTP(S) base URL for sse, a ws(s) URL for ws,
// or a command/script path for stdio.
func ParseServerSpec(spec string) (ServerDescriptor, error) {
	idx := strings.LastIndex(spec, specSeparator)
	if idx <= 0 || idx+len(specSeparator) >= len(spec) {
		return ServerDescriptor{}, fmt.Errorf("mcp: malformed server spec %q (want url%stype)", spec, specSeparator)
	}
	url := spec[:idx]
	transport := Transport(spec[idx+len(specSeparator):])
	switch transport {
	case TransportStdio, TransportSSE, TransportWS:
	default:
		return ServerDescriptor{}, fmt.Errorf("mcp: unknown transport %q in spec %q", transport, spec)
	}
	return ServerDescriptor{URL: url, Transport: transport}, nil
}

// ID returns the identity string "url::transport". Two descriptors with the
// same ID are the same origin regardless of auth token.
func (d ServerDescriptor) ID() string {
	return d.URL + specSeparator + string(d.Transport)
}

// String implements fmt.Stringer; same as ID.
func (d ServerDescriptor) String() string { return d.ID() }

// ToolDescriptor describes one tool as advertised over MCP.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Schema returns the input schema, substituting an empty object schema when
// the server advertised none. Vendors reject tools without a schema.
func (t ToolDescriptor) Schema() json.RawMessage {
	if len(t.InputSchema) == 0 || string(t.InputSchema) == "null" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return t.InputSchema
}

// ToolOrigin pairs a tool with the server it was advertised from.
type ToolOrigin struct {
	Tool   ToolDescriptor   `json:"tool"`
	Server ServerDescriptor `json:"server"`
}
