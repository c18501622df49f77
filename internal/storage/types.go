package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an article id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoArchive is returned when a read-only open finds no ingested schema.
	ErrNoArchive = errors.New("no archive found; run ingest first")
)

// MaxBatch caps how many articles a batch fetch returns.
const MaxBatch = 5

// Publication is the single archived source. Only one row ever exists.
type Publication struct {
	Slug        string
	URL         string
	Name        string
	Description string
	Author      string
	LastFetched time.Time
}

// Article is one ingested post. URL is the natural key.
type Article struct {
	ID               int64
	Title            string
	Subtitle         string
	URL              string
	PublishedAt      time.Time
	ContentHTML      string
	ContentText      string
	WordCount        int
	Audience         string // "everyone", "only_paid", ...
	ReactionCount    int
	CommentCount     int
	ReactionsJSON    string // empty means NULL
	CategoriesJSON   string // empty means NULL
	FeaturedImageURL string
	FetchedAt        time.Time
}

// InsertOutcome reports what InsertArticle did with a row.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	AlreadyExists
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Run is one completed ingestion run in the run ledger.
type Run struct {
	ID         string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Saved      int
	Skipped    int
	Failed     int
}

// ArticleSummary is the listing projection returned by search and top-N.
type ArticleSummary struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Subtitle      string    `json:"subtitle,omitempty"`
	URL           string    `json:"url"`
	PublishedAt   time.Time `json:"published_date"`
	WordCount     int       `json:"word_count"`
	Audience      string    `json:"audience"`
	ReactionCount int       `json:"reaction_count"`
	CommentCount  int       `json:"comment_count"`
}

// ArticleDetail is a full article with its auxiliary JSON payloads decoded.
// Reactions and Categories hold the raw stored string when it does not parse.
type ArticleDetail struct {
	Article
	Reactions  any
	Categories any
}

// SearchQuery filters the structured search. Zero values disable a filter.
// Until is exclusive.
type SearchQuery struct {
	Keyword  string
	Since    time.Time
	Until    time.Time
	Audience string
	Limit    int
	Offset   int
}

// SearchHit is one full-text match.
type SearchHit struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_date"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet"`
}

// DateRange is the span of published dates in the archive.
type DateRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// PublicationInfo is the publication row plus headline totals.
type PublicationInfo struct {
	Publication
	TotalArticles  int64
	Range          DateRange
	TotalReactions int64
	TotalComments  int64
	AvgWordCount   float64
	LastRun        *Run
}

// Stats holds aggregate statistics about the archive.
type Stats struct {
	TotalArticles     int64            `json:"total_articles"`
	TotalReactions    int64            `json:"total_reactions"`
	TotalComments     int64            `json:"total_comments"`
	AvgWordCount      float64          `json:"avg_word_count"`
	AvgReactions      float64          `json:"avg_reactions_per_article"`
	AvgComments       float64          `json:"avg_comments_per_article"`
	Range             DateRange        `json:"date_range"`
	AudienceBreakdown map[string]int64 `json:"audience_breakdown"`
	ArticlesByYear    map[string]int64 `json:"articles_by_year"`
}

// Metric is a column articles can be ranked by.
type Metric string

const (
	MetricReactions Metric = "reaction_count"
	MetricComments  Metric = "comment_count"
	MetricWordCount Metric = "word_count"
)

// ParseMetric maps a requested metric name onto the allow-list. Anything
// unknown ranks by reactions.
func ParseMetric(s string) Metric {
	switch m := Metric(s); m {
	case MetricReactions, MetricComments, MetricWordCount:
		return m
	default:
		return MetricReactions
	}
}
