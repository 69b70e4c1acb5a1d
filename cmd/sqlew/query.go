package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sin5ddd/sqlew/internal/decision"
	"github.com/sin5ddd/sqlew/internal/file"
	"github.com/spf13/cobra"
)

var (
	queryLayer string
	queryTags  string
	querySince string
	queryLimit int
	queryOut   string
)

func init() {
	for _, c := range []*cobra.Command{queryDecisionsCmd, queryFilesCmd} {
		c.Flags().StringVar(&queryLayer, "layer", "", "filter by architectural layer")
		c.Flags().StringVar(&querySince, "since", "", `only rows newer than this ("1h","2d", or ISO8601)`)
		c.Flags().IntVar(&queryLimit, "limit", 50, "maximum rows returned")
		c.Flags().StringVar(&queryOut, "output", "table", "output format: table or json")
	}
	queryDecisionsCmd.Flags().StringVar(&queryTags, "tags", "", "comma-separated tags to filter by (OR match)")

	queryCmd.AddCommand(queryDecisionsCmd, queryFilesCmd)
}

var queryCmd = &cobra.Command{
	Use:     "query",
	GroupID: "query",
	Short:   "Query recorded decisions or file changes",
}

var queryDecisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List decisions, optionally filtered by layer/tags/recency",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		store := decision.New(a.adapter, a.project.ProjectID)
		var results []decision.SearchResult
		if queryTags != "" {
			tags := strings.Split(queryTags, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
			results, err = store.SearchByTags(cmd.Context(), tags, decision.MatchAny, queryLayer, "", queryLimit)
		} else {
			results, err = store.SearchAdvanced(cmd.Context(), decision.AdvancedFilter{
				Layers:       nonEmptySlice(queryLayer),
				UpdatedAfter: querySince,
				Limit:        queryLimit,
			})
		}
		if err != nil {
			return err
		}
		return printDecisions(results)
	},
}

var queryFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "List recorded file changes, optionally filtered by layer/recency",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		store := file.New(a.adapter, a.project.ProjectID)
		results, err := store.Query(cmd.Context(), file.QueryFilter{Layer: queryLayer, Since: querySince, Limit: queryLimit})
		if err != nil {
			return err
		}
		return printFiles(results)
	},
}

func nonEmptySlice(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func printDecisions(results []decision.SearchResult) error {
	if queryOut == "json" || jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("no decisions matched")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-30s %-10s %-8s %s\n", r.Key, r.Layer, r.Status, r.Value)
	}
	return nil
}

func printFiles(results []file.QueryResult) error {
	if queryOut == "json" || jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	if len(results) == 0 {
		fmt.Println("no file changes matched")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-50s %-10s %-10s %s\n", r.Path, r.ChangeType, r.Agent, r.Layer)
	}
	return nil
}
