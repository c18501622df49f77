package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/runnerr0/postvault/internal/storage"
)

// Execute implements the go-flags Commander interface for StatsCommand.
func (c *StatsCommand) Execute(args []string) error {
	store, err := openReader(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(c.globals.runContext(), store)
}

// executeWithStore prints stats from a provided store (for testing).
func (c *StatsCommand) executeWithStore(ctx context.Context, store storage.Reader) error {
	st, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if wantJSON(c.globals) {
		return printJSON(st)
	}

	fmt.Println("Archive Statistics")
	fmt.Println("==================")
	fmt.Printf("Articles:      %s\n", formatNumber(st.TotalArticles))
	if st.TotalArticles == 0 {
		return nil
	}
	fmt.Printf("Published:     %s to %s\n", formatDate(st.Range.Earliest), formatDate(st.Range.Latest))
	fmt.Printf("Reactions:     %s (%.1f per article)\n", formatNumber(st.TotalReactions), st.AvgReactions)
	fmt.Printf("Comments:      %s (%.1f per article)\n", formatNumber(st.TotalComments), st.AvgComments)
	fmt.Printf("Avg words:     %.0f\n", st.AvgWordCount)

	fmt.Println()
	fmt.Println("Audience:")
	for _, k := range sortedKeys(st.AudienceBreakdown) {
		name := k
		if name == "" {
			name = "(unset)"
		}
		fmt.Printf("  %-20s %s\n", name, formatNumber(st.AudienceBreakdown[k]))
	}

	if len(st.ArticlesByYear) > 0 {
		fmt.Println()
		fmt.Println("By year:")
		for _, y := range sortedKeys(st.ArticlesByYear) {
			fmt.Printf("  %-20s %s\n", y, formatNumber(st.ArticlesByYear[y]))
		}
	}
	return nil
}

// Execute implements the go-flags Commander interface for TopCommand.
func (c *TopCommand) Execute(args []string) error {
	store, err := openReader(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(c.globals.runContext(), store)
}

// executeWithStore ranks articles from a provided store (for testing).
// Unknown metrics rank by reaction_count.
func (c *TopCommand) executeWithStore(ctx context.Context, store storage.Reader) error {
	metric := storage.ParseMetric(c.Metric)

	results, err := store.TopArticles(ctx, metric, c.Limit)
	if err != nil {
		return fmt.Errorf("top articles: %w", err)
	}

	if wantJSON(c.globals) {
		return printJSON(map[string]any{"metric": metric, "articles": results})
	}

	fmt.Printf("Top articles by %s\n\n", metric)
	printSummaries(results, 0, "No articles archived yet.")
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
