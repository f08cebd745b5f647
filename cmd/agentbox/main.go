package main

import (
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/logger"
	"github.com/isdmx/agentbox/mcpserver"
	"github.com/isdmx/agentbox/sandbox"
	"github.com/isdmx/agentbox/staging"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the config file (default: config.yaml in . or ./config)")
	pflag.Parse()

	app := fx.New(
		fx.Provide(
			func() (*config.Config, error) { return config.NewFromFile(*configPath) },
			logger.NewFromConfig,
			staging.NewFromConfig,
			sandbox.NewFromConfig,
			func(sb *sandbox.Sandbox) sandbox.Executor { return sb },
			func(store *staging.Store) sandbox.StagingArea { return store },
			mcpserver.New,
		),

		// Release the wasm engine on shutdown
		fx.Invoke(func(lc fx.Lifecycle, sb *sandbox.Sandbox) {
			lc.Append(fx.Hook{OnStop: sb.Close})
		}),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer, shutdowner fx.Shutdowner, log *zap.Logger) {
				serve := server.ServeStdio
				if cfg.Server.Transport == "http" {
					serve = server.ServeHTTP
				}
				go func() {
					if err := serve(); err != nil {
						log.Error("MCP server stopped", zap.Error(err))
						_ = shutdowner.Shutdown(fx.ExitCode(1))
						return
					}
					_ = shutdowner.Shutdown()
				}()
			},
		),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}
