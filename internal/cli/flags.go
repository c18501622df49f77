package cli

import "context"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	DBPath  string `long:"db-path" description:"Override the archive database path"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`

	ctx context.Context
}

// runContext returns the command context, cancelled on SIGINT/SIGTERM.
func (g *GlobalFlags) runContext() context.Context {
	if g == nil || g.ctx == nil {
		return context.Background()
	}
	return g.ctx
}

// IngestCommand — fetch the publication archive into the local store.
type IngestCommand struct {
	Full bool `long:"full" description:"Re-process every post, ignoring what is already archived"`

	globals *GlobalFlags
	version string
}

// InfoCommand — publication metadata and archive totals.
type InfoCommand struct {
	globals *GlobalFlags
	version string
}

// SearchCommand — filter articles by keyword, date range and audience.
type SearchCommand struct {
	Keyword  string `long:"keyword" short:"k" description:"Substring to match in title or subtitle"`
	From     string `long:"from" description:"Only articles published on or after this date (YYYY-MM-DD)"`
	To       string `long:"to" description:"Only articles published on or before this date (YYYY-MM-DD)"`
	Audience string `long:"audience" description:"Audience tier, e.g. everyone or only_paid"`
	Limit    int    `long:"limit" description:"Maximum results" default:"20"`
	Offset   int    `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
}

// FTSCommand — full-text search over title, subtitle and body.
type FTSCommand struct {
	Limit int `long:"limit" description:"Maximum results" default:"10"`

	Args struct {
		Query []string `positional-arg-name:"query" required:"1"`
	} `positional-args:"yes"`

	globals *GlobalFlags
	version string
}

// GetCommand — print one article, or up to five at once.
type GetCommand struct {
	Args struct {
		IDs []int64 `positional-arg-name:"id" required:"1"`
	} `positional-args:"yes"`

	globals *GlobalFlags
	version string
}

// StatsCommand — aggregate statistics about the archive.
type StatsCommand struct {
	globals *GlobalFlags
	version string
}

// TopCommand — highest ranked articles by one metric.
type TopCommand struct {
	Metric string `long:"metric" description:"reaction_count | comment_count | word_count" default:"reaction_count"`
	Limit  int    `long:"limit" description:"Maximum results" default:"10"`

	globals *GlobalFlags
	version string
}
