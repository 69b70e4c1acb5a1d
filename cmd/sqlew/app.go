package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sin5ddd/sqlew/internal/configresolve"
	"github.com/sin5ddd/sqlew/internal/constraint"
	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/dispatch"
	"github.com/sin5ddd/sqlew/internal/file"
	"github.com/sin5ddd/sqlew/internal/message"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/projectctx"
	"github.com/sin5ddd/sqlew/internal/retention"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/sin5ddd/sqlew/internal/taskgraph"
	"go.uber.org/zap"
)

// app bundles everything a database-backed command needs: the open
// adapter, the bound project, and a Dispatcher wired to the in-process
// stores. Built once per command invocation by openApp; never a package
// global, per the project context's explicit-handle rule.
type app struct {
	adapter  *storage.Adapter
	project  *projectctx.Handle
	cfg      configresolve.Config
	dispatch *dispatch.Dispatcher
	log      *zap.Logger
}

// requiredSchema names the tables query/dump/export commands depend on;
// VerifyIntegrity aborts startup with a remediation hint if any are absent
// instead of failing confusingly deep inside a query.
func requiredSchema() []storage.RequiredTable {
	return []storage.RequiredTable{
		{Name: "m_projects", Columns: []string{"id", "name"}},
		{Name: "t_decisions", Columns: []string{"key_id", "project_id", "value"}},
		{Name: "t_constraints", Columns: []string{"id", "project_id", "constraint_text"}},
		{Name: "t_tasks", Columns: []string{"id", "project_id", "title", "status_id"}},
		{Name: "t_file_changes", Columns: []string{"id", "project_id", "file_id"}},
		{Name: "t_activity_log", Columns: []string{"id", "project_id", "event_type"}},
	}
}

// openApp resolves config, opens and migrates the database, and binds the
// project context — the composition root every non-hook command runs
// through. The underlying *sql.DB is pooled per-process by database/sql;
// closing the Adapter at command exit (via app.close) is still correct for
// a short-lived CLI invocation.
func openApp(ctx context.Context) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	cfg, err := configresolve.Resolve(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	logger := newLogger()

	dialect, err := storage.ParseDialect(cfg.Database.Type)
	if err != nil {
		return nil, err
	}
	connCfg := storage.ConnConfig{
		Dialect:      dialect,
		Path:         resolveSQLitePath(cwd, cfg.Database.Path),
		Host:         cfg.Database.Connection.Host,
		Port:         cfg.Database.Connection.Port,
		Database:     cfg.Database.Connection.Database,
		User:         cfg.Database.Auth.User,
		Password:     cfg.Database.Auth.Password,
		SSLMode:      cfg.Database.Auth.SSL.Mode,
		ConnectRetry: 10 * time.Second,
	}
	if dbPathFlag != "" {
		connCfg.Path = dbPathFlag
	}

	a, err := storage.OpenAndMigrate(ctx, connCfg, requiredSchema())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	projectName := projectFlag
	if projectName == "" {
		projectName = filepath.Base(cwd)
	}
	handle, err := projectctx.Ensure(ctx, a, projectName, model.DetectionConfig, cwd, time.Now().Unix())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("binding project: %w", err)
	}

	decisions := decision.New(a, handle.ProjectID)
	constraints := constraint.New(a, handle.ProjectID)
	tasks := taskgraph.New(a, handle.ProjectID, func() int64 { return time.Now().Unix() })
	files := file.New(a, handle.ProjectID)
	messages := message.New(a, handle.ProjectID, retention.Config{
		MessageHours:    cfg.Autodelete.MessageHours,
		FileHistoryDays: cfg.Autodelete.FileHistoryDays,
		IgnoreWeekend:   cfg.Autodelete.IgnoreWeekend,
	})

	local := dispatch.NewLocalBackend(a, handle.ProjectID, decisions, constraints, tasks, files, messages)
	// Remote is nil: this binary only ever runs as the local backend. A
	// SaaS-mode client would supply a dispatch.RemoteBackend here instead.
	d := dispatch.New(local, nil)

	return &app{adapter: a, project: handle, cfg: cfg, dispatch: d, log: logger}, nil
}

func (a *app) close() {
	if a.adapter != nil {
		a.adapter.Close()
	}
	_ = a.log.Sync()
}

func resolveSQLitePath(cwd, configured string) string {
	if configured == "" {
		configured = ".sqlew/sqlew.db"
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(cwd, configured)
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	if quietFlag {
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	} else if verboseFlag {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// agentName resolves the attribution name hook/store writes use: the
// --agent flag, then $SQLEW_AGENT, then "cli".
func agentName() string {
	if agentFlag != "" {
		return agentFlag
	}
	if v := os.Getenv("SQLEW_AGENT"); v != "" {
		return v
	}
	return "cli"
}
