// Package main is the entry point for the agentbox MCP server.
//
// agentbox runs untrusted snippets inside a WebAssembly sandbox with a
// bounded CPU budget and a bounded linear memory, and exposes it to MCP
// clients over stdio or HTTP. Files staged through the MCP tools or a YAML
// manifest can be mounted read-only into every run.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
