// Package mcp exposes implementation sessions as MCP tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// over stdio and calls a workflow.Service directly, so the same tools work
// against the in-process controller or the Temporal client. Messages and
// failure reports are scrubbed for secrets before they are returned.
package mcp
