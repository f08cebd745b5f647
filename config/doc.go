// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and AGENTBOX_* environment variables. It
// covers the server transport, the sandbox resource ceilings, the staging
// manifest and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Timeout: %dms\n", cfg.Sandbox.TimeoutMS)
package config
