package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sin5ddd/sqlew/internal/configresolve"
	"github.com/sin5ddd/sqlew/internal/hookqueue"
	"github.com/spf13/cobra"
)

var hooksOnly bool

func init() {
	initCmd.Flags().BoolVar(&hooksOnly, "hooks", false, "install hook configuration only, skip config.toml/.gitignore")
}

// initCmd creates the per-project .sqlew/ layout: config.toml (if absent),
// the hook queue directory, and a .gitignore entry. Skill/template copy-out
// and git-hook shell-script installation are a separate concern this repo
// doesn't implement; this command only prepares the state sqlew itself
// reads (config file, queue directory).
var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Initialize .sqlew/ in the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		sqlewDir := filepath.Join(cwd, ".sqlew")
		if err := os.MkdirAll(sqlewDir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", sqlewDir, err)
		}

		if _, err := hookqueue.New(filepath.Join(sqlewDir, "queue")); err != nil {
			return fmt.Errorf("creating hook queue directory: %w", err)
		}
		fmt.Println("hook queue ready at .sqlew/queue/")

		if hooksOnly {
			return nil
		}

		configPath := filepath.Join(sqlewDir, "config.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			f, err := os.Create(configPath)
			if err != nil {
				return fmt.Errorf("creating %s: %w", configPath, err)
			}
			defer f.Close()
			if err := toml.NewEncoder(f).Encode(configresolve.Defaults()); err != nil {
				return fmt.Errorf("writing %s: %w", configPath, err)
			}
			fmt.Println("wrote .sqlew/config.toml")
		} else if err != nil {
			return err
		} else {
			fmt.Println(".sqlew/config.toml already exists, leaving it untouched")
		}

		if err := ensureGitignoreEntries(cwd); err != nil {
			return err
		}
		return nil
	},
}

// ensureGitignoreEntries appends the .sqlew/ database and queue paths to
// .gitignore, leaving config.toml trackable, if they aren't already
// present. Appends rather than rewrites so unrelated entries survive.
func ensureGitignoreEntries(cwd string) error {
	wanted := []string{".sqlew/*.db", ".sqlew/queue/"}
	path := filepath.Join(cwd, ".gitignore")

	existing := map[string]bool{}
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			existing[strings.TrimSpace(scanner.Text())] = true
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}

	var toAppend []string
	for _, w := range wanted {
		if !existing[w] {
			toAppend = append(toAppend, w)
		}
	}
	if len(toAppend) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	for _, line := range toAppend {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	fmt.Println("updated .gitignore")
	return nil
}
