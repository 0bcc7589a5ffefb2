package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/perchlabs/synapse/internal/config"
	"github.com/perchlabs/synapse/internal/engine"
	"github.com/perchlabs/synapse/internal/store"
)

// openDB is a helper that opens the database for CLI commands.
func openDB() (*store.DB, error) {
	dbPath := os.Getenv("SYNAPSE_DB_PATH")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

// openEngine opens the database and builds an engine from the
// environment config, without starting the decay worker.
func openEngine() (*store.DB, *engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	db.SetAllowedSources(cfg.Graph.Sources)
	eng := engine.New(db, engine.Params{
		LearningRate:  cfg.Graph.LearningRate,
		Symmetric:     cfg.Graph.HebbianSymmetric,
		DecayFactor:   cfg.Graph.DecayFactor,
		MinEdgeWeight: cfg.Graph.MinEdgeWeight,
		MinNodeScore:  cfg.Graph.MinNodeScore,
	}, newLogger(cfg.Server.LogLevel))
	return db, eng, nil
}

// --- search command ---

var (
	searchLimit    int
	searchSource   string
	searchArchived bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memory nodes",
	Long:  "Substring search over node content and summaries, most recently accessed first.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nodes, err := db.SearchNodes(ctx, query, store.SearchOpts{
		Limit:           searchLimit,
		Source:          searchSource,
		IncludeArchived: searchArchived,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(nodes) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	printNodes(nodes)
	return nil
}

// --- recent command ---

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently accessed nodes",
	RunE:  runRecent,
}

func runRecent(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nodes, err := db.ListRecentNodes(ctx, store.SearchOpts{Limit: searchLimit, Source: searchSource})
	if err != nil {
		return fmt.Errorf("list recent: %w", err)
	}

	if len(nodes) == 0 {
		fmt.Println("No nodes yet.")
		return nil
	}
	printNodes(nodes)
	return nil
}

func printNodes(nodes []store.Node) {
	for i, n := range nodes {
		line := n.Summary
		if line == "" {
			line = n.Content
		}
		if len(line) > 120 {
			line = line[:120] + "..."
		}
		fmt.Printf("%d. [%.2f] %s (%s)\n", i+1, n.DecayScore, n.ID, n.Source)
		fmt.Printf("   %s\n", line)
		if len(n.Tags) > 0 {
			fmt.Printf("   tags: %s\n", strings.Join(n.Tags, ", "))
		}
	}
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	db, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := eng.GraphStats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	fmt.Printf("nodes:           %d active, %d archived\n", stats.NodeCount, stats.ArchivedCount)
	fmt.Printf("edges:           %d\n", stats.EdgeCount)
	fmt.Printf("avg connections: %.2f\n", stats.AvgConnections)
	if len(stats.NodesBySource) > 0 {
		fmt.Println("by source:")
		for source, count := range stats.NodesBySource {
			fmt.Printf("  %-14s %d\n", source, count)
		}
	}
	return nil
}

// --- decay command ---

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run a decay pass now",
	Long:  "Applies temporal decay to edge weights and node scores, prunes weak edges, and archives faded nodes.",
	RunE:  runDecayCmd,
}

func runDecayCmd(cmd *cobra.Command, args []string) error {
	db, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stats, err := eng.RunDecay(ctx)
	if err != nil {
		return fmt.Errorf("decay: %w", err)
	}

	fmt.Printf("edges decayed:  %d\n", stats.EdgesDecayed)
	fmt.Printf("edges pruned:   %d\n", stats.EdgesPruned)
	fmt.Printf("nodes decayed:  %d\n", stats.NodesDecayed)
	fmt.Printf("nodes archived: %d\n", stats.NodesArchived)
	if stats.RowFailures > 0 {
		fmt.Printf("row failures:   %d\n", stats.RowFailures)
	}
	return nil
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	searchCmd.Flags().StringVarP(&searchSource, "source", "s", "", "Filter by source")
	searchCmd.Flags().BoolVar(&searchArchived, "archived", false, "Include archived nodes")

	recentCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	recentCmd.Flags().StringVarP(&searchSource, "source", "s", "", "Filter by source")
}
