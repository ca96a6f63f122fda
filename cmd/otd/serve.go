package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"otdops/internal/app"
	"otdops/internal/config"
	"otdops/internal/scheduler"
	"otdops/internal/server"
)

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration (otdops.yml)"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	c.AddCommand(configInitCmd())
	return c
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Println("config ok:", file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default: workspace otdops.yml)")
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default otdops.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitConfig(viper.GetString("workspace"), force)
			if err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// parseAPIKeys reads "key=actor" pairs.
func parseAPIKeys(pairs []string) (map[string]string, error) {
	keys := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, actor, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(actor) == "" {
			return nil, fmt.Errorf("invalid api key %q (want key=actor)", p)
		}
		keys[strings.TrimSpace(key)] = strings.TrimSpace(actor)
	}
	return keys, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var apiKeys []string
	var allowActorHeader, noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Serves the REST API with OpenAPI at <base>/openapi.json and docs at /docs.
Bearer auth uses OTDOPS_JWT_SECRET; --api-key adds static keys. Without either the API is open and
callers name themselves with X-Actor-Id. evaluation.schedule in otdops.yml runs periodic evaluation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseAPIKeys(apiKeys)
			if err != nil {
				return err
			}
			logger := newLogger()
			ctx := cmd.Context()
			ws, err := app.Open(ctx, viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer ws.Close()

			authCfg := server.AuthConfig{
				JWTSecret:        os.Getenv("OTDOPS_JWT_SECRET"),
				APIKeys:          keys,
				AllowActorHeader: allowActorHeader,
				Logger:           logger,
			}
			if !authCfg.Enabled() {
				logger.Warn("no OTDOPS_JWT_SECRET or api keys configured, API is open")
			}
			handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}

			if spec := ws.Config.Evaluation.Schedule; spec != "" && !noScheduler {
				sched, err := scheduler.New(ws.Engine, spec, ws.Config.Evaluation.Parallelism, logger)
				if err != nil {
					return err
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer sched.Stop()
			}
			server.StartWebhooks(ctx, ws.Engine.Repo, ws.Config.Webhooks, logger)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("shutdown failed", "error", err)
				}
			}()
			logger.Info("serving otdops API", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving otdops API on http://%s%s (OpenAPI at %s/openapi.json, docs at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringArrayVar(&apiKeys, "api-key", nil, "static api key as key=actor (repeatable)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept X-Actor-Id without credentials when auth is on")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "ignore evaluation.schedule")
	return cmd
}
