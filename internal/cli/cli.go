package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Ingest *IngestCommand
	Info   *InfoCommand
	Search *SearchCommand
	FTS    *FTSCommand
	Get    *GetCommand
	Stats  *StatsCommand
	Top    *TopCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "postvault"
	parser.LongDescription = "Archive a newsletter publication into a local SQLite store and search it."

	cmds := &commands{
		Ingest: &IngestCommand{globals: &globals, version: version},
		Info:   &InfoCommand{globals: &globals, version: version},
		Search: &SearchCommand{globals: &globals, version: version},
		FTS:    &FTSCommand{globals: &globals, version: version},
		Get:    &GetCommand{globals: &globals, version: version},
		Stats:  &StatsCommand{globals: &globals, version: version},
		Top:    &TopCommand{globals: &globals, version: version},
	}

	parser.AddCommand("ingest", "Fetch the publication archive", "Fetch the publication's archive and store every post not yet archived. --full re-processes every post; existing rows are never overwritten.", cmds.Ingest)
	parser.AddCommand("info", "Show publication info", "Show publication metadata, archive totals and the last ingest run.", cmds.Info)
	parser.AddCommand("search", "Search articles with filters", "Search articles by title/subtitle keyword, publication date range and audience.", cmds.Search)
	parser.AddCommand("fts", "Full-text search", "Full-text search over title, subtitle and body. FTS5 syntax (AND, OR, NOT, \"phrases\") is accepted.", cmds.FTS)
	parser.AddCommand("get", "Print articles by id", "Print one article in full, or up to 5 when several ids are given.", cmds.Get)
	parser.AddCommand("stats", "Show archive statistics", "Show totals, averages, audience breakdown and articles per year.", cmds.Stats)
	parser.AddCommand("top", "Show top articles", "Show the highest ranked articles by reaction_count, comment_count or word_count.", cmds.Top)

	return parser, &globals, cmds
}

// Run is the main entry point for the postvault CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("postvault %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	parser, globals, _ := buildParser(version)
	globals.ctx = ctx

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
