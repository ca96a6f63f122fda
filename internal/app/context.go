// Package app opens a workspace: database, schema, config and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"otdops/internal/config"
	"otdops/internal/db"
	"otdops/internal/engine"
	"otdops/internal/migrate"
)

// Workspace is an opened workspace. Close releases the database handle.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Log    hclog.Logger
}

// NewLogger builds the process logger used by the CLI and the server.
func NewLogger(level string, jsonFormat bool) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "otdops",
		Level:      hclog.LevelFromString(level),
		Output:     os.Stderr,
		JSONFormat: jsonFormat,
	})
}

// Open prepares the workspace directory, migrates the schema and builds the engine from
// otdops.yml, or from defaults when the workspace has no config file.
func Open(ctx context.Context, dir string, logger hclog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("workspace opened", "dir", dir, "db", db.Path(dir))
	return &Workspace{
		Dir:    dir,
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg, logger),
		Log:    logger,
	}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// InitConfig writes the default otdops.yml unless one exists or force is set.
func InitConfig(dir string, force bool) (string, error) {
	path := config.Path(dir)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return path, err
	}
	return path, nil
}
