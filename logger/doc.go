// Package logger builds the zap logger shared by every agentbox component.
//
// All entries go to stderr. The stdio MCP transport owns stdout, so a log
// line there would corrupt the protocol stream. Every entry carries
// service=agentbox. Sandbox runs add run_id, outcome, exit_code,
// fuel_consumed, peak_memory and memory_denials; production mode encodes
// the run duration in milliseconds.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    return err
//	}
//	defer log.Sync()
//	log.Info("sandbox ready", zap.Uint64("timeout_ms", 10000))
package logger
