package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/onnwee/orangesearch/internal/app"
	"github.com/onnwee/orangesearch/internal/auth"
	"github.com/onnwee/orangesearch/internal/config"
	"github.com/onnwee/orangesearch/internal/db"
	"github.com/onnwee/orangesearch/internal/search"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "searchctl",
		Usage: "Operate the hybrid search service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional YAML config file; environment variables take precedence",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded if present",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: func(c *cli.Context) error {
			_ = godotenv.Load(c.String("env-file"))
			return setupLogger(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "search",
				Usage:  "Run a query through rate limiting, quota, history and ranking",
				Action: searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Query text", Required: true},
					&cli.StringFlag{Name: "ip", Usage: "Caller IP address; empty skips rate limiting and quota"},
					&cli.Int64Flag{Name: "user", Usage: "Authenticated user id; 0 means anonymous"},
					&cli.BoolFlag{Name: "json", Usage: "Print the outcome as JSON"},
				},
			},
			{
				Name:   "associate",
				Usage:  "Attribute an IP's recent anonymous searches to a user",
				Action: associateCommand,
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "user", Usage: "User id receiving the history", Required: true},
					&cli.StringFlag{Name: "ip", Usage: "IP address the searches came from", Required: true},
					&cli.IntFlag{Name: "limit", Usage: "Most recent searches to claim (default: ANONYMOUS_SEARCH_LIMIT)"},
				},
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration with secrets masked",
				Action: configCommand,
			},
			{
				Name:   "schema",
				Usage:  "Print the database schema, or apply it with --apply",
				Action: schemaCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "apply", Usage: "Apply the schema to DATABASE_URL"},
				},
			},
			{
				Name:   "token",
				Usage:  "Mint a session token for a user (requires JWT_SECRET)",
				Action: tokenCommand,
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "user", Usage: "User id", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: auth.SessionTokenExpiry},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.String("log-level"), err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig loads configuration and folds every validation problem into one error.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, errs := config.Load(c.String("config"))
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()
	return fn(ctx, a)
}

func searchCommand(c *cli.Context) error {
	id := search.Identity{IP: c.String("ip")}
	if user := c.Int64("user"); user != 0 {
		id.UserID = &user
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		out, err := a.Search.ExecuteSearch(ctx, c.String("query"), id)
		if err != nil {
			var serr *search.Error
			if errors.As(err, &serr) && serr.RetryAfter > 0 {
				return fmt.Errorf("%s: %s (retry after %ds)", serr.Code, serr.Message, serr.RetryAfter)
			}
			return err
		}
		if c.Bool("json") {
			return writeOutcomeJSON(c, out)
		}
		return writeOutcome(c, out)
	})
}

type outcomeJSON struct {
	Query     string       `json:"query"`
	Retrieval string       `json:"retrieval"`
	Degraded  string       `json:"degraded_by,omitempty"`
	Results   []resultJSON `json:"results"`
}

type resultJSON struct {
	URL         string  `json:"url"`
	Title       string  `json:"title,omitempty"`
	Score       float64 `json:"score"`
	LexicalRank int     `json:"lexical_rank,omitempty"`
	VectorRank  int     `json:"vector_rank,omitempty"`
	Authority   float64 `json:"authority"`
}

func writeOutcomeJSON(c *cli.Context, out *search.Outcome) error {
	doc := outcomeJSON{Query: out.Query, Retrieval: string(out.Path), Results: []resultJSON{}}
	if out.DegradedBy != nil {
		doc.Degraded = out.DegradedBy.Error()
	}
	for _, s := range out.Results {
		r := resultJSON{
			URL:         s.URL,
			Score:       s.Score,
			LexicalRank: s.LexicalRank,
			VectorRank:  s.VectorRank,
			Authority:   s.Authority,
		}
		if s.Title != nil {
			r.Title = *s.Title
		}
		doc.Results = append(doc.Results, r)
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeOutcome(c *cli.Context, out *search.Outcome) error {
	w := c.App.Writer
	fmt.Fprintf(w, "query: %q  retrieval: %s  results: %d\n", out.Query, out.Path, len(out.Results))
	if out.DegradedBy != nil {
		fmt.Fprintf(w, "degraded: %v\n", out.DegradedBy)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tLEX\tVEC\tURL\tTITLE")
	for i, s := range out.Results {
		title := ""
		if s.Title != nil {
			title = *s.Title
		}
		fmt.Fprintf(tw, "%d\t%.6f\t%s\t%s\t%s\t%s\n", i+1, s.Score, rank(s.LexicalRank), rank(s.VectorRank), s.URL, title)
	}
	return tw.Flush()
}

func rank(r int) string {
	if r == 0 {
		return "-"
	}
	return fmt.Sprint(r)
}

func associateCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		limit := c.Int("limit")
		if limit <= 0 {
			limit = a.Config.AnonymousSearchLimit
		}
		n, err := a.Recorder.AssociateAnonymousSearches(ctx, c.Int64("user"), c.String("ip"), limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "associated %d searches from %s with user %d\n", n, c.String("ip"), c.Int64("user"))
		return nil
	})
}

func configCommand(c *cli.Context) error {
	cfg, errs := config.Load(c.String("config"))
	if cfg == nil {
		return errors.Join(errs...)
	}
	summary := cfg.LogSummary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, summary[k])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = "  " + err.Error()
		}
		return fmt.Errorf("configuration has %d problem(s):\n%s", len(errs), strings.Join(msgs, "\n"))
	}
	return nil
}

func schemaCommand(c *cli.Context) error {
	if !c.Bool("apply") {
		_, err := fmt.Fprint(c.App.Writer, db.Schema)
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	pool, err := db.Open(c.Context, cfg.Database())
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.EnsureSchema(c.Context, pool); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "schema applied")
	return nil
}

func tokenCommand(c *cli.Context) error {
	cfg, errs := config.Load(c.String("config"))
	if cfg == nil {
		return errors.Join(errs...)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to mint tokens")
	}
	token, err := auth.NewJWTService(cfg.JWTSecret, cfg.JWTPreviousSecret).
		GenerateSessionToken(c.Int64("user"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
