package app

import (
	"database/sql"
	"fmt"

	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/engine"
	"teamline/internal/migrate"
)

// Context bundles everything a command needs: the open database, the engine
// and the workspace config. Close it when done.
type Context struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
}

// Bootstrap opens the workspace database, applies migrations and builds the
// engine. Config is optional; defaults apply when teamline.yml is absent.
func Bootstrap(workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{
		DB:     conn,
		Engine: engine.New(conn),
		Config: cfg,
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
