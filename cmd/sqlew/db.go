package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sin5ddd/sqlew/internal/dbtransfer"
	"github.com/sin5ddd/sqlew/internal/model"
	"github.com/sin5ddd/sqlew/internal/projectctx"
	"github.com/sin5ddd/sqlew/internal/storage"
	"github.com/spf13/cobra"
)

var (
	dumpFormat        string
	dumpFrom          string
	dumpTables        []string
	dumpOnConflict    string
	dumpMaxStatements int
	dumpExcludeSchema bool
	dumpOut           string

	exportProject string
	exportOut     string

	importSource      string
	importProjectName string
)

func init() {
	dumpCmd.Flags().StringVar(&dumpFormat, "format", "", "target SQL dialect: mysql, postgresql, or sqlite (required)")
	dumpCmd.Flags().StringVar(&dumpFrom, "from", "", "source SQLite path to dump, overriding the resolved config/--db path")
	dumpCmd.Flags().StringSliceVar(&dumpTables, "tables", nil, "comma-separated table names (default: every table)")
	dumpCmd.Flags().StringVar(&dumpOnConflict, "on-conflict", "error", "error, ignore, or replace")
	dumpCmd.Flags().IntVar(&dumpMaxStatements, "max-statements", 0, "split output into <name>-partN.sql at this many statements (0: one file)")
	dumpCmd.Flags().BoolVar(&dumpExcludeSchema, "exclude-schema", false, "omit CREATE TABLE statements, data only")
	dumpCmd.Flags().StringVar(&dumpOut, "out", "sqlew-dump", "output base name (without extension)")

	exportCmd.Flags().StringVar(&exportProject, "project", "", "project name to export (default: current project)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default: <project>-export.json)")

	importCmd.Flags().StringVar(&importSource, "source", "", "JSON dump file to import (required)")
	importCmd.Flags().StringVar(&importProjectName, "project-name", "", "import into this project instead of the dump's own project name")
	_ = importCmd.MarkFlagRequired("source")

	dbCmd.AddCommand(dumpCmd, exportCmd, importCmd)
}

var dbCmd = &cobra.Command{
	Use:     "db",
	GroupID: "data",
	Short:   "Cross-engine SQL dump and project-scoped JSON export/import",
}

// dumpCmd wraps internal/dbtransfer.Dump: a cross-engine SQL script meant
// to move a whole database (every project) from one backend to another,
// not a per-project snapshot (that's db:export/db:import).
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Emit a SQL script for migrating between database engines",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dumpFrom != "" {
			dbPathFlag = dumpFrom
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		target, err := storage.ParseDialect(dumpFormat)
		if err != nil {
			return err
		}
		conflict, err := dbtransfer.ParseOnConflict(dumpOnConflict)
		if err != nil {
			return err
		}
		opts := dbtransfer.DumpOptions{
			Target:         target,
			Tables:         dumpTables,
			OnConflict:     conflict,
			MaxStatements:  dumpMaxStatements,
			ExcludeSchema:  dumpExcludeSchema,
			OutputBaseName: dumpOut,
		}
		paths, err := dbtransfer.Dump(cmd.Context(), a.adapter, opts)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println("wrote", p)
		}
		return nil
	},
}

// exportCmd wraps internal/dbtransfer.Export: a self-describing JSON dump
// scoped to one project (master rows resolved to natural keys, not raw
// IDs), meant for db:import into a different installation.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Emit a self-describing JSON dump of one project",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		projectID := a.project.ProjectID
		projectName := a.project.Name
		if exportProject != "" && exportProject != projectName {
			var id int64
			id, projectName, err = projectctx.Lookup(cmd.Context(), a.adapter, exportProject)
			if err != nil {
				return fmt.Errorf("looking up project %q: %w", exportProject, err)
			}
			projectID = id
		}

		d, err := dbtransfer.Export(cmd.Context(), a.adapter, projectID, projectName, time.Now().Unix())
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = projectName + "-export.json"
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", out, err)
		}
		defer f.Close()
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		fmt.Println("wrote", out)
		return nil
	},
}

// importCmd wraps internal/dbtransfer.Import: append-merge the rows in a
// db:export dump into the current database's project of the same name
// (or --project-name), creating that project if it doesn't exist yet.
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Append-merge a JSON export into the current database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		f, err := os.Open(importSource)
		if err != nil {
			return fmt.Errorf("opening %s: %w", importSource, err)
		}
		defer f.Close()
		var d dbtransfer.ExportDump
		if err := json.NewDecoder(f).Decode(&d); err != nil {
			return fmt.Errorf("parsing %s: %w", importSource, err)
		}

		destName := importProjectName
		if destName == "" {
			destName = d.Metadata.Project
		}
		now := time.Now().Unix()
		handle, err := projectctx.Ensure(cmd.Context(), a.adapter, destName, model.DetectionManual, "", now)
		if err != nil {
			return fmt.Errorf("binding destination project %q: %w", destName, err)
		}

		res, err := dbtransfer.Import(cmd.Context(), a.adapter, &d, handle.ProjectID, now)
		if err != nil {
			return err
		}
		fmt.Printf("imported into project %q: %d decisions (%d already present), %d constraints, %d tasks, %d file changes, %d activity entries\n",
			destName, res.DecisionsInserted, res.DecisionsSkipped, res.ConstraintsInserted, res.TasksInserted, res.FileChangesInserted, res.ActivityInserted)
		return nil
	},
}
