package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/runnerr0/postvault/internal/storage"
)

// articleJSON is the JSON output structure for one fetched article.
type articleJSON struct {
	ID               int64  `json:"id"`
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle,omitempty"`
	URL              string `json:"url"`
	PublishedDate    string `json:"published_date,omitempty"`
	Audience         string `json:"audience"`
	WordCount        int    `json:"word_count"`
	ReactionCount    int    `json:"reaction_count"`
	CommentCount     int    `json:"comment_count"`
	Reactions        any    `json:"reactions"`
	Categories       any    `json:"categories"`
	FeaturedImageURL string `json:"featured_image_url,omitempty"`
	ContentText      string `json:"content_text"`
}

// Execute implements the go-flags Commander interface for GetCommand.
func (c *GetCommand) Execute(args []string) error {
	store, err := openReader(c.globals)
	if err != nil {
		return err
	}
	defer store.Close()

	return c.executeWithStore(c.globals.runContext(), store)
}

// executeWithStore fetches against a provided store (for testing). A single
// id is a single fetch; several ids are a batch capped at storage.MaxBatch.
func (c *GetCommand) executeWithStore(ctx context.Context, store storage.Reader) error {
	ids := c.Args.IDs
	if len(ids) == 0 {
		return errors.New("at least one article id is required")
	}

	var articles []storage.ArticleDetail
	if len(ids) == 1 {
		d, err := store.GetArticle(ctx, ids[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("article %d not found", ids[0])
		}
		if err != nil {
			return err
		}
		articles = []storage.ArticleDetail{*d}
	} else {
		if len(ids) > storage.MaxBatch {
			fmt.Fprintf(os.Stderr, "Note: only the first %d of %d ids are fetched.\n", storage.MaxBatch, len(ids))
		}
		var err error
		articles, err = store.GetArticles(ctx, ids)
		if err != nil {
			return err
		}
	}

	if wantJSON(c.globals) {
		out := make([]articleJSON, len(articles))
		for i, a := range articles {
			out[i] = toArticleJSON(a)
		}
		if len(ids) == 1 {
			return printJSON(out[0])
		}
		return printJSON(out)
	}

	if len(articles) == 0 {
		fmt.Println("No articles found for those ids.")
		return nil
	}
	for i, a := range articles {
		if i > 0 {
			fmt.Println()
			fmt.Println("========================================")
			fmt.Println()
		}
		printArticle(a)
	}
	return nil
}

func toArticleJSON(a storage.ArticleDetail) articleJSON {
	out := articleJSON{
		ID:               a.ID,
		Title:            a.Title,
		Subtitle:         a.Subtitle,
		URL:              a.URL,
		Audience:         a.Audience,
		WordCount:        a.WordCount,
		ReactionCount:    a.ReactionCount,
		CommentCount:     a.CommentCount,
		Reactions:        a.Reactions,
		Categories:       a.Categories,
		FeaturedImageURL: a.FeaturedImageURL,
		ContentText:      a.ContentText,
	}
	if !a.PublishedAt.IsZero() {
		out.PublishedDate = formatDate(a.PublishedAt)
	}
	return out
}

func printArticle(a storage.ArticleDetail) {
	fmt.Printf("[%d] %s\n", a.ID, a.Title)
	if a.Subtitle != "" {
		fmt.Printf("%s\n", a.Subtitle)
	}
	fmt.Printf("URL:        %s\n", a.URL)
	fmt.Printf("Published:  %s\n", formatDate(a.PublishedAt))
	fmt.Printf("Audience:   %s\n", a.Audience)
	fmt.Printf("Words:      %d\n", a.WordCount)
	fmt.Printf("Reactions:  %d\n", a.ReactionCount)
	fmt.Printf("Comments:   %d\n", a.CommentCount)
	if a.Categories != nil {
		fmt.Printf("Tags:       %v\n", a.Categories)
	}
	fmt.Println()
	fmt.Println("--- Content ---")
	if a.ContentText == "" {
		fmt.Println("No content stored")
	} else {
		fmt.Println(a.ContentText)
	}
}
