// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the sandbox to MCP clients through the
// mark3labs/mcp-go library. run_snippet executes a snippet and returns its
// output and outcome as JSON; stage_file, remove_staged_file and
// list_staged_files manage the staging store that runs see at /staging.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, sb, sb.Staging())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
