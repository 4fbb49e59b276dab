// ABOUTME: Root Cobra command for the pgmcp gateway CLI.
// ABOUTME: Documents tools, transports, and the arbitrary-SQL caveat.
package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pgmcp",
	Short: "PostgreSQL gateway for MCP clients",
	Long: `pgmcp exposes a PostgreSQL database to AI agents over the Model
Context Protocol, with both an SSE event stream and plain HTTP
request/response on a single endpoint.

AVAILABLE TOOLS:

  postgres_query           Execute a SQL query exactly as given
  postgres_list_tables     List tables in the public schema
  postgres_describe_table  Column names, types, nullability, defaults

TRANSPORTS:

  GET  /mcp    Open an SSE stream (one session per stream)
  POST /mcp    Send one JSON-RPC envelope; plain JSON reply, or an SSE
               frame when the request accepts text/event-stream, or
               delivery onto a live stream when Mcp-Session-Id is set
  GET  /       Server identification
  GET  /health Liveness plus a database round-trip

CONFIGURATION (environment, read once at start; .env honored):

  POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
  POSTGRES_DB, POSTGRES_SSLMODE, PGMCP_LISTEN, PGMCP_POOL_SIZE,
  PGMCP_ACQUIRE_TIMEOUT, PGMCP_IDLE_TIMEOUT

SECURITY:

  The postgres_query tool runs caller-supplied SQL verbatim, including
  INSERT, UPDATE, DELETE, and DDL. The gateway enforces no statement
  restrictions. Run it against a role whose grants match what callers
  may do; do not point it at a privileged account you would not hand
  to the calling agent.

QUICK START:

  $ export POSTGRES_HOST=localhost POSTGRES_DB=demodb
  $ pgmcp serve`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
