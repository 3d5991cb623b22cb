package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cleanapp/moltagent/engage"
	"github.com/cleanapp/moltagent/ledger"
	"github.com/cleanapp/moltagent/moltbook"
	"github.com/cleanapp/moltagent/policy"
	"github.com/cleanapp/moltagent/util"
	"github.com/cleanapp/moltagent/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "moltagent",
		Usage:   "CleanApp engagement agent for Moltbook",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "dry-run",
			Usage:   "log writes instead of sending them",
			Value:   true,
			EnvVars: []string{"DRY_RUN"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "ledger database (sqlite:// or postgres://)",
			Value:   "sqlite://data/moltagent.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   10,
		},
		&cli.StringFlag{
			Name:    "moltbook-host",
			Usage:   "Moltbook API base URL",
			Value:   "https://www.moltbook.com/api/v1",
			EnvVars: []string{"MOLTBOOK_HOST"},
		},
		&cli.StringFlag{
			Name:    "moltbook-api-key",
			Usage:   "Moltbook agent API key",
			EnvVars: []string{"MOLTBOOK_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "gemini-api-key",
			Usage:   "Gemini API key for relevance scoring and drafting",
			EnvVars: []string{"GEMINI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "gemini-models",
			Usage:   "comma separated model fallback order; each entry is name or name:rpm:rpd",
			Value:   "gemini-2.0-flash,gemini-2.0-flash-lite",
			EnvVars: []string{"GEMINI_MODELS"},
		},
		&cli.IntFlag{
			Name:    "max-posts-per-day",
			Value:   3,
			EnvVars: []string{"MAX_POSTS_PER_DAY"},
		},
		&cli.IntFlag{
			Name:    "max-comments-per-day",
			Value:   5,
			EnvVars: []string{"MAX_COMMENTS_PER_DAY"},
		},
		&cli.IntFlag{
			Name:    "max-outreach-per-day",
			Value:   3,
			EnvVars: []string{"MAX_OUTREACH_PER_DAY"},
		},
		&cli.DurationFlag{
			Name:    "post-cooldown",
			Usage:   "minimum time between posts",
			Value:   30 * time.Minute,
			EnvVars: []string{"POST_COOLDOWN"},
		},
		&cli.IntFlag{
			Name:    "outreach-cooldown-days",
			Value:   7,
			EnvVars: []string{"OUTREACH_COOLDOWN_DAYS"},
		},
		&cli.Float64Flag{
			Name:    "relevance-threshold",
			Value:   0.6,
			EnvVars: []string{"RELEVANCE_THRESHOLD"},
		},
		&cli.IntFlag{
			Name:    "min-post-length",
			Value:   50,
			EnvVars: []string{"MIN_POST_LENGTH"},
		},
		&cli.IntFlag{
			Name:    "max-post-length",
			Value:   10000,
			EnvVars: []string{"MAX_POST_LENGTH"},
		},
		&cli.IntFlag{
			Name:    "min-comment-length",
			Value:   20,
			EnvVars: []string{"MIN_COMMENT_LENGTH"},
		},
		&cli.IntFlag{
			Name:    "max-comment-length",
			Value:   2000,
			EnvVars: []string{"MAX_COMMENT_LENGTH"},
		},
		&cli.DurationFlag{
			Name:    "write-delay",
			Usage:   "pause between consecutive writes",
			Value:   2 * time.Second,
			EnvVars: []string{"WRITE_DELAY"},
		},
		&cli.IntFlag{
			Name:    "search-limit",
			Value:   10,
			EnvVars: []string{"SEARCH_LIMIT"},
		},
		&cli.IntFlag{
			Name:    "outreach-search-limit",
			Value:   5,
			EnvVars: []string{"OUTREACH_SEARCH_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "policy-file",
			Usage:   "optional YAML file overriding topics, blocklist and queries",
			EnvVars: []string{"POLICY_FILE"},
		},
		&cli.StringSliceFlag{
			Name:    "self-names",
			Usage:   "our own agent names, never approached by outreach",
			Value:   cli.NewStringSlice("cleanapp", "cleanapp_agent", "cleanappbot"),
			EnvVars: []string{"SELF_NAMES"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for write notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"MOLTAGENT_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			EnvVars: []string{"MOLTAGENT_LOG_FMT"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		_, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		return err
	}

	app.Action = runCycle
	app.Commands = []*cli.Command{
		runCmd,
		healthCmd,
		statusCmd,
		introCmd,
		outreachCmd,
		postCmd,
		evaluateCmd,
		feedCmd,
		daemonCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:   "run",
	Usage:  "run one engagement cycle (the default)",
	Action: runCycle,
}

// signalContext cancels on SIGINT or SIGTERM so an interrupted write loop stops between
// writes instead of being killed mid-commit.
func signalContext(cctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
}

func runCycle(cctx *cli.Context) error {
	ctx, stop := signalContext(cctx)
	defer stop()

	svc, err := setupAgent(ctx, cctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	summary, err := svc.agent.RunCycle(ctx)
	if summary != nil {
		printSummary(summary)
	}
	return err
}

var healthCmd = &cli.Command{
	Name:  "health",
	Usage: "check that the Moltbook account can write",
	Action: func(cctx *cli.Context) error {
		logger := slog.Default()
		client, err := newMoltbookClient(cctx, logger)
		if err != nil {
			return err
		}
		ctx := cctx.Context
		h := client.CheckHealth(ctx)
		if h.OK {
			fmt.Printf("healthy: %s\n", h.Message)
			prof, err := client.Profile(ctx)
			if err != nil {
				return fmt.Errorf("fetching profile: %w", err)
			}
			printProfile(prof)
			return nil
		}
		if h.Suspended {
			fmt.Printf("suspended: %s (retry after %s)\n", h.Message, h.RetryAfter)
		} else {
			fmt.Printf("unhealthy: %s\n", h.Message)
		}
		return h.Err()
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "print today's activity from the ledger",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "day",
			Usage: "only print post and comment counts for this day (eg: yesterday, 2026-03-14)",
		},
	},
	Action: func(cctx *cli.Context) error {
		svc, err := setupLedgerOnly(cctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		if d := cctx.String("day"); d != "" {
			day, err := util.ParseDay(d, svc.ledger.Now())
			if err != nil {
				return err
			}
			posts, comments, err := svc.ledger.GetDailyCounts(cctx.Context, day)
			if err != nil {
				return err
			}
			fmt.Printf("%s posts=%d comments=%d\n", ledger.DayKey(day), posts, comments)
			return nil
		}

		st, err := svc.agent.Status(cctx.Context)
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

var introCmd = &cli.Command{
	Name:  "intro",
	Usage: "publish the one-time introduction post",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "title",
			Value: engage.IntroTitle,
		},
		&cli.StringFlag{
			Name:  "content-file",
			Usage: "read the post body from a file instead of the built-in text",
		},
	},
	Action: func(cctx *cli.Context) error {
		content := engage.IntroContent
		if p := cctx.String("content-file"); p != "" {
			b, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			content = string(b)
		}

		ctx, stop := signalContext(cctx)
		defer stop()

		svc, err := setupAgent(ctx, cctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.agent.PostIntroduction(ctx, cctx.String("title"), content)
		if err != nil {
			return err
		}
		printPostResult(res)
		return nil
	},
}

var outreachCmd = &cli.Command{
	Name:  "outreach",
	Usage: "approach other agents whose work could feed CleanApp reports",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signalContext(cctx)
		defer stop()

		svc, err := setupAgent(ctx, cctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		actions, err := svc.agent.RunOutreach(ctx)
		for _, a := range actions {
			fmt.Printf("approached %s on %s (fit %.2f, dry-run %v)\n", a.Agent, a.ThreadID, a.Fit, a.DryRun)
		}
		if err == nil && len(actions) == 0 {
			fmt.Println("no outreach this run")
		}
		return err
	},
}

var postCmd = &cli.Command{
	Name:  "post",
	Usage: "draft and publish one proactive post",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signalContext(cctx)
		defer stop()

		svc, err := setupAgent(ctx, cctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.agent.CreateValuePost(ctx)
		if err != nil {
			return err
		}
		printPostResult(res)
		return nil
	},
}

var evaluateCmd = &cli.Command{
	Name:      "evaluate",
	Usage:     "show what the policy would decide for a thread, without writing anything",
	ArgsUsage: "[<thread-id>]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name: "title",
		},
		&cli.StringFlag{
			Name: "content",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		threadID := cctx.Args().First()
		title, content := cctx.String("title"), cctx.String("content")

		if title == "" && content == "" {
			if threadID == "" {
				return fmt.Errorf("need a thread id or --title/--content")
			}
			client, err := newMoltbookClient(cctx, slog.Default())
			if err != nil {
				return err
			}
			p, err := client.GetPost(ctx, threadID)
			if err != nil {
				return fmt.Errorf("fetching thread %s: %w", threadID, err)
			}
			title, content = p.Title, p.Content
		}

		svc, err := setupLedgerOnly(cctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		ev, err := svc.engine.EvaluateThread(ctx, title, content, threadID)
		if err != nil {
			return err
		}
		fmt.Printf("engage: %v\nmode:   %s\nreason: %s\n", ev.Engage, ev.Mode, ev.Reason)
		return nil
	},
}

var feedCmd = &cli.Command{
	Name:  "feed",
	Usage: "list recent threads with the mode each would be classified as",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "submolt",
			Usage: "read one submolt instead of the front page",
		},
		&cli.StringFlag{
			Name:  "sort",
			Value: "new",
		},
		&cli.IntFlag{
			Name:  "limit",
			Value: 25,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		client, err := newMoltbookClient(cctx, slog.Default())
		if err != nil {
			return err
		}
		data, err := loadPolicyData(cctx)
		if err != nil {
			return err
		}
		engine := policy.NewEngine(nil, limitsFromFlags(cctx), data, nil)

		var posts []moltbook.Post
		if s := cctx.String("submolt"); s != "" {
			posts, err = client.GetSubmoltFeed(ctx, s, cctx.String("sort"))
		} else {
			posts, err = client.GetFeed(ctx, cctx.String("sort"), cctx.Int("limit"))
		}
		if err != nil {
			return err
		}
		for _, p := range posts {
			mode, _ := engine.ClassifyMode(p.Title + " " + p.Content)
			if skip, _ := engine.ShouldSkip(p.Title + " " + p.Content); skip {
				mode = "blocked"
			}
			age := "-"
			if !p.CreatedAt.IsZero() {
				age = time.Since(p.CreatedAt).Truncate(time.Minute).String()
			}
			fmt.Printf("%-12s %-14s %-10s m/%-16s %s\n", p.ID, mode, age, p.Submolt, strings.TrimSpace(p.Title))
		}
		return nil
	},
}

var daemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "run engagement cycles and outreach on an interval",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:    "interval",
			Value:   10 * time.Minute,
			EnvVars: []string{"INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"METRICS_LISTEN"},
		},
		&cli.BoolFlag{
			Name:    "outreach",
			Usage:   "also run the outreach loop after each cycle",
			Value:   true,
			EnvVars: []string{"DAEMON_OUTREACH"},
		},
	},
	Action: runDaemon,
}

func runDaemon(cctx *cli.Context) error {
	ctx, stop := signalContext(cctx)
	defer stop()
	logger := slog.Default().With("system", "daemon")

	shutdownOTEL, err := configOTEL(ctx, "moltagent")
	if err != nil {
		return err
	}
	defer shutdownOTEL()

	svc, err := setupAgent(ctx, cctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := RunMetrics(ctx, newMetricsServer(cctx.String("metrics-listen")), logger); err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runLoop(ctx, svc.agent, cctx.Duration("interval"), cctx.Bool("outreach"), logger)
	})
	return g.Wait()
}

// runLoop runs a cycle immediately and then on every tick until ctx is done.
func runLoop(ctx context.Context, agent *engage.Agent, interval time.Duration, outreach bool, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := runOnce(ctx, agent, outreach, logger); err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, agent *engage.Agent, outreach bool, logger *slog.Logger) error {
	summary, err := agent.RunCycle(ctx)
	if err != nil {
		return err
	}
	logger.Info("cycle complete", "outcomes", len(summary.Outcomes), "comments_today", summary.CommentsToday)
	if !outreach {
		return nil
	}
	actions, err := agent.RunOutreach(ctx)
	if err != nil {
		return err
	}
	logger.Info("outreach complete", "approached", len(actions))
	return nil
}
