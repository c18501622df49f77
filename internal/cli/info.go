package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/postvault/internal/storage"
)

// infoJSON is the JSON output structure for the info command.
type infoJSON struct {
	Name           string            `json:"name"`
	Slug           string            `json:"slug"`
	URL            string            `json:"url"`
	Description    string            `json:"description,omitempty"`
	Author         string            `json:"author,omitempty"`
	LastFetched    string            `json:"last_fetched,omitempty"`
	TotalArticles  int64             `json:"total_articles"`
	DateRange      storage.DateRange `json:"date_range"`
	TotalReactions int64             `json:"total_reactions"`
	TotalComments  int64             `json:"total_comments"`
	AvgWordCount   float64           `json:"avg_word_count"`
	LastRun        *runJSON          `json:"last_run,omitempty"`
}

type runJSON struct {
	ID         string `json:"id"`
	Mode       string `json:"mode"`
	FinishedAt string `json:"finished_at"`
	Total      int    `json:"total"`
	Saved      int    `json:"saved"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

// Execute implements the go-flags Commander interface for InfoCommand.
func (c *InfoCommand) Execute(args []string) error {
	store, err := openReader(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(c.globals.runContext(), store)
}

// executeWithStore runs info against a provided store (for testing).
func (c *InfoCommand) executeWithStore(ctx context.Context, store storage.Reader) error {
	info, err := store.PublicationInfo(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		if wantJSON(c.globals) {
			return printJSON(map[string]string{"error": "no publication ingested yet"})
		}
		fmt.Println("No publication ingested yet. Run `postvault ingest` first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("publication info: %w", err)
	}

	if wantJSON(c.globals) {
		return printJSON(toInfoJSON(info))
	}
	printInfoHuman(info)
	return nil
}

func toInfoJSON(info *storage.PublicationInfo) infoJSON {
	out := infoJSON{
		Name:           info.Name,
		Slug:           info.Slug,
		URL:            info.URL,
		Description:    info.Description,
		Author:         info.Author,
		TotalArticles:  info.TotalArticles,
		DateRange:      info.Range,
		TotalReactions: info.TotalReactions,
		TotalComments:  info.TotalComments,
		AvgWordCount:   info.AvgWordCount,
	}
	if !info.LastFetched.IsZero() {
		out.LastFetched = info.LastFetched.UTC().Format(time.RFC3339)
	}
	if r := info.LastRun; r != nil {
		out.LastRun = &runJSON{
			ID:         r.ID,
			Mode:       r.Mode,
			FinishedAt: r.FinishedAt.UTC().Format(time.RFC3339),
			Total:      r.Total,
			Saved:      r.Saved,
			Skipped:    r.Skipped,
			Failed:     r.Failed,
		}
	}
	return out
}

func printInfoHuman(info *storage.PublicationInfo) {
	fmt.Println(info.Name)
	fmt.Println("================")
	fmt.Printf("URL:           %s\n", info.URL)
	if info.Author != "" {
		fmt.Printf("Author:        %s\n", info.Author)
	}
	if info.Description != "" {
		fmt.Printf("About:         %s\n", info.Description)
	}
	fmt.Printf("Articles:      %s\n", formatNumber(info.TotalArticles))
	if info.TotalArticles > 0 {
		fmt.Printf("Published:     %s to %s\n", formatDate(info.Range.Earliest), formatDate(info.Range.Latest))
	}
	fmt.Printf("Reactions:     %s\n", formatNumber(info.TotalReactions))
	fmt.Printf("Comments:      %s\n", formatNumber(info.TotalComments))
	fmt.Printf("Avg words:     %.0f\n", info.AvgWordCount)
	if !info.LastFetched.IsZero() {
		fmt.Printf("Last fetched:  %s\n", info.LastFetched.Local().Format("2006-01-02 15:04"))
	}

	if r := info.LastRun; r != nil {
		fmt.Println()
		fmt.Printf("Last run:      %s (%s)\n", r.FinishedAt.Local().Format("2006-01-02 15:04"), r.Mode)
		fmt.Printf("               %d saved, %d skipped, %d failed of %d\n", r.Saved, r.Skipped, r.Failed, r.Total)
	}
}
