// Package main provides the chartsense command-line client.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chartsense/internal/config"
	"github.com/thebtf/chartsense/internal/worker/auth"
	"github.com/thebtf/chartsense/pkg/client"
)

const usage = `Usage: chartsense [flags] <command> [args]

Commands:
  list [date]                   Show sessions for a day (default today)
  days                          Show stored days
  stats                         Show storage statistics
  save --provider ID [--text T] Save an analysis (text from stdin when omitted)
  clear                         Delete today's sessions
  retention                     Run a retention sweep now
  providers                     List providers
  prompt [instructions]         Print the analysis prompt
  health                        Show worker health
  token [--ttl D]               Issue an API token

Flags:
`

func main() {
	url := flag.String("url", "", "Worker URL (default from config)")
	token := flag.String("token", os.Getenv("CHARTSENSE_TOKEN"), "API token")
	asJSON := flag.Bool("json", false, "Print raw JSON")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Get()
	if *url == "" {
		*url = cfg.WorkerURL()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cli := &cli{
		client: client.New(*url, client.WithToken(*token)),
		cfg:    cfg,
		out:    os.Stdout,
		json:   *asJSON,
	}
	if err := cli.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chartsense: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	client *client.Client
	cfg    *config.Config
	out    io.Writer
	in     io.Reader
	json   bool
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list":
		date := ""
		if len(args) > 0 {
			date = args[0]
		}
		records, err := c.client.List(ctx, date)
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(records)
		}
		if len(records) == 0 {
			fmt.Fprintln(c.out, "No sessions.")
			return nil
		}
		for _, r := range records {
			fmt.Fprintf(c.out, "%s  %-18s %-8s %-6s %s\n", r.DisplayTime, r.ProviderLabel, r.Rating, r.Confidence, firstLine(r.Body))
		}
		return nil

	case "days":
		days, err := c.client.Days(ctx)
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(days)
		}
		for _, d := range days {
			fmt.Fprintln(c.out, d)
		}
		return nil

	case "stats":
		stats, err := c.client.Stats(ctx)
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(stats)
		}
		if stats == nil {
			fmt.Fprintln(c.out, "No sessions stored.")
			return nil
		}
		fmt.Fprintf(c.out, "Days:      %d (%s to %s)\n", stats.TotalDays, stats.OldestDate, stats.NewestDate)
		fmt.Fprintf(c.out, "Sessions:  %d\n", stats.TotalSessions)
		fmt.Fprintf(c.out, "Today:     %d\n", stats.TodayCount)
		return nil

	case "save":
		return c.save(ctx, args)

	case "clear":
		if err := c.client.ClearToday(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Cleared today's sessions.")
		return nil

	case "retention":
		result, err := c.client.Retention(ctx)
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(result)
		}
		fmt.Fprintf(c.out, "Cutoff %s, removed %d day(s), cleared %s.\n", result.Cutoff, len(result.Removed), result.ClearedToday)
		return nil

	case "providers":
		list, err := c.client.Providers(ctx)
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(list)
		}
		for _, p := range list {
			fmt.Fprintf(c.out, "%-12s %-18s %s\n", p.ID, p.Name, p.DefaultModel)
		}
		return nil

	case "prompt":
		prompt, err := c.client.Prompt(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, prompt)
		return nil

	case "health":
		h, err := c.client.Health(ctx)
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(h)
		}
		fmt.Fprintf(c.out, "%s (version %s, backend %s, up %s)\n", h.Status, h.Version, h.Backend, h.Uptime)
		return nil

	case "token":
		return c.issueToken(args)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) save(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	provider := fs.String("provider", "", "Provider id")
	text := fs.String("text", "", "Analysis text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *provider == "" {
		return fmt.Errorf("--provider is required")
	}

	body := *text
	if body == "" {
		in := c.in
		if in == nil {
			in = os.Stdin
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read analysis: %w", err)
		}
		body = string(data)
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("analysis text is empty")
	}

	id, err := c.client.SaveAnalysis(ctx, *provider, body)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Saved session %d.\n", id)
	return nil
}

func (c *cli) issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	ttl := fs.Duration("ttl", auth.DefaultTTL, "Token lifetime")
	subject := fs.String("subject", "cli", "Token subject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.cfg.AuthSecret == "" {
		return fmt.Errorf("CHARTSENSE_AUTH_SECRET is not configured")
	}

	token, err := auth.Issue([]byte(c.cfg.AuthSecret), *subject, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, token)
	return nil
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}
