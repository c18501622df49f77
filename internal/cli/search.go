package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/runnerr0/postvault/internal/storage"
)

// Execute implements the go-flags Commander interface for SearchCommand.
func (c *SearchCommand) Execute(args []string) error {
	store, err := openReader(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(c.globals.runContext(), store, args)
}

// executeWithStore runs the search against a provided store (for testing).
// Extra positional args are joined into the keyword.
func (c *SearchCommand) executeWithStore(ctx context.Context, store storage.Reader, args []string) error {
	keyword := c.Keyword
	if keyword == "" && len(args) > 0 {
		keyword = strings.Join(args, " ")
	}

	since, err := parseDate("from", c.From)
	if err != nil {
		return err
	}
	until, err := parseDate("to", c.To)
	if err != nil {
		return err
	}
	if !until.IsZero() {
		// --to is inclusive of the whole day.
		until = until.AddDate(0, 0, 1)
	}

	results, err := store.Search(ctx, storage.SearchQuery{
		Keyword:  keyword,
		Since:    since,
		Until:    until,
		Audience: c.Audience,
		Limit:    c.Limit,
		Offset:   c.Offset,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if wantJSON(c.globals) {
		return printJSON(results)
	}
	printSummaries(results, c.Offset, "No articles match those filters.")
	return nil
}

// Execute implements the go-flags Commander interface for FTSCommand.
func (c *FTSCommand) Execute(args []string) error {
	store, err := openReader(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(c.globals.runContext(), store)
}

// executeWithStore runs the full-text search against a provided store (for testing).
func (c *FTSCommand) executeWithStore(ctx context.Context, store storage.Reader) error {
	query := strings.Join(c.Args.Query, " ")

	hits, err := store.FullTextSearch(ctx, query, c.Limit)
	if err != nil {
		return err
	}

	if wantJSON(c.globals) {
		return printJSON(hits)
	}

	if len(hits) == 0 {
		fmt.Printf("No results found for %q\n", query)
		return nil
	}
	fmt.Printf("Found %d %s for %q\n\n", len(hits), plural(len(hits), "result", "results"), query)
	for i, h := range hits {
		fmt.Printf("%d. [%d] %s (%s)\n", i+1, h.ID, h.Title, formatDate(h.PublishedAt))
		fmt.Printf("   %s\n", h.URL)
		if h.Snippet != "" {
			fmt.Printf("   %s\n", h.Snippet)
		}
		if i < len(hits)-1 {
			fmt.Println()
		}
	}
	return nil
}

func printSummaries(results []storage.ArticleSummary, offset int, empty string) {
	if len(results) == 0 {
		fmt.Println(empty)
		return
	}

	fmt.Printf("Found %d %s\n\n", len(results), plural(len(results), "article", "articles"))
	for i, a := range results {
		fmt.Printf("%d. [%d] %s", i+1+offset, a.ID, a.Title)
		if a.Subtitle != "" {
			fmt.Printf(" \u2014 %s", a.Subtitle)
		}
		fmt.Println()
		fmt.Printf("   %s\n", a.URL)
		fmt.Printf("   %s \u00b7 %s \u00b7 %d words \u00b7 %d reactions \u00b7 %d comments\n",
			formatDate(a.PublishedAt), a.Audience, a.WordCount, a.ReactionCount, a.CommentCount)
		if i < len(results)-1 {
			fmt.Println()
		}
	}
}
