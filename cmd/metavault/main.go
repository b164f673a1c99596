// Command metavault is a CLI for inspecting and manipulating metavault
// database files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/diontimmer/metavault"
)

var (
	dbPath     string
	keyColumn  string
	configPath string
	verbose    bool
)

// fileConfig is the optional TOML config file; flags override it
type fileConfig struct {
	DBPath       string `toml:"db_path"`
	KeyColumn    string `toml:"key_column"`
	ManualCommit bool   `toml:"manual_commit"`
}

var rootCmd = &cobra.Command{
	Use:   "metavault",
	Short: "CLI for metavault metadata databases",
	Long:  `A command-line interface for managing file metadata stored in a metavault SQLite database.`,
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List datasets in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		names, err := store.Datasets(context.Background())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <dataset>",
	Short: "Create a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrsStr, _ := cmd.Flags().GetString("attributes")
		var attrs []string
		if attrsStr != "" {
			for _, attr := range strings.Split(attrsStr, ",") {
				attrs = append(attrs, strings.TrimSpace(attr))
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if _, err := store.CreateDataset(context.Background(), args[0], attrs...); err != nil {
			return err
		}
		color.Green("Dataset %q created", args[0])
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <dataset>",
	Short: "Remove a dataset and all of its entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.RemoveDataset(context.Background(), args[0]); err != nil {
			return err
		}
		color.Green("Dataset %q removed", args[0])
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <dataset> <key>",
	Short: "Print one entry as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		ds, err := store.Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		entry, err := ds.Get(ctx, args[1])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <dataset> <key>",
	Short: "Upsert one entry from JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entryJSON, _ := cmd.Flags().GetString("json")
		if entryJSON == "" {
			return fmt.Errorf("--json is required")
		}
		var entry metavault.Entry
		if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
			return fmt.Errorf("invalid entry JSON: %w", err)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		ds, err := store.CreateDataset(ctx, args[0])
		if err != nil {
			return err
		}
		if err := ds.Set(ctx, args[1], entry); err != nil {
			return err
		}
		color.Green("Entry %q written to %q", args[1], args[0])
		return nil
	},
}

var delCmd = &cobra.Command{
	Use:   "del <dataset> <key>",
	Short: "Delete one entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		ds, err := store.Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		if err := ds.Delete(ctx, args[1]); err != nil {
			return err
		}
		color.Green("Entry %q deleted from %q", args[1], args[0])
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys <dataset>",
	Short: "List every key in a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		ds, err := store.Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		keys, err := ds.Keys(ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <dataset>",
	Short: "Search a dataset by criteria",
	Long: `Search a dataset by per-attribute criteria combined with AND.

Examples:
  metavault search tracks --like artist=Dion
  metavault search tracks --exact genre=dnb --range bpm=170,180
  metavault search tracks --exists mastered`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria := metavault.Criteria{}

		exacts, _ := cmd.Flags().GetStringArray("exact")
		for _, spec := range exacts {
			name, value, err := splitSpec(spec)
			if err != nil {
				return err
			}
			criteria[name] = metavault.Predicate{Exact: value}
		}
		likes, _ := cmd.Flags().GetStringArray("like")
		for _, spec := range likes {
			name, value, err := splitSpec(spec)
			if err != nil {
				return err
			}
			criteria[name] = metavault.Predicate{Like: value}
		}
		ranges, _ := cmd.Flags().GetStringArray("range")
		for _, spec := range ranges {
			name, value, err := splitSpec(spec)
			if err != nil {
				return err
			}
			bounds := strings.SplitN(value, ",", 2)
			if len(bounds) != 2 {
				return fmt.Errorf("range for %q must be min,max", name)
			}
			criteria[name] = metavault.Predicate{Range: []any{bounds[0], bounds[1]}}
		}
		exists, _ := cmd.Flags().GetStringArray("exists")
		for _, name := range exists {
			criteria[name] = metavault.Predicate{Exists: true}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		ds, err := store.Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		results, err := ds.Search(ctx, criteria)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(results.AsMap(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		if verbose {
			color.Cyan("%d matching entries", results.Len())
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <dataset> <path>",
	Short: "Export a dataset to a .jsonl, .json or .csv file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		ds, err := store.Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		if err := ds.Export(ctx, args[1]); err != nil {
			return err
		}
		color.Green("Dataset %q exported to %s", args[0], args[1])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <dataset> <path>",
	Short: "Import records from a .jsonl, .json or .csv file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := context.Background()
		ds, err := store.CreateDataset(ctx, args[0])
		if err != nil {
			return err
		}
		if err := ds.Import(ctx, args[1], replace); err != nil {
			return err
		}
		color.Green("Imported %s into %q", args[1], args[0])
		return nil
	},
}

// splitSpec parses an attr=value flag argument
func splitSpec(spec string) (string, string, error) {
	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid criterion %q, want attr=value", spec)
	}
	return parts[0], parts[1], nil
}

// openStore builds a store from the config file and flags and opens it
func openStore() (*metavault.Store, error) {
	config := metavault.DefaultConfig()

	if configPath != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(configPath, &fc); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
		if fc.DBPath != "" {
			config.Path = fc.DBPath
		}
		if fc.KeyColumn != "" {
			config.KeyColumn = fc.KeyColumn
		}
		config.ManualCommit = fc.ManualCommit
	}
	if dbPath != "" {
		config.Path = dbPath
	}
	if keyColumn != "" {
		config.KeyColumn = keyColumn
	}
	if verbose {
		config.Logger = metavault.NewStdLogger(metavault.LevelDebug)
	}

	store, err := metavault.OpenWithConfig(config)
	if err != nil {
		return nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "metavault.db", "path to the database file")
	rootCmd.PersistentFlags().StringVar(&keyColumn, "key-column", "", "name of the key column")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	createCmd.Flags().String("attributes", "", "comma-separated initial attribute names")
	setCmd.Flags().String("json", "", "entry as a JSON object")
	searchCmd.Flags().StringArray("exact", nil, "exact criterion attr=value")
	searchCmd.Flags().StringArray("like", nil, "substring criterion attr=value")
	searchCmd.Flags().StringArray("range", nil, "inclusive range criterion attr=min,max")
	searchCmd.Flags().StringArray("exists", nil, "non-null criterion attr")
	importCmd.Flags().Bool("replace", false, "clear the dataset before importing")

	rootCmd.AddCommand(datasetsCmd, createCmd, dropCmd, getCmd, setCmd, delCmd, keysCmd, searchCmd, exportCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
