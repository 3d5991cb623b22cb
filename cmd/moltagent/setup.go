package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cleanapp/moltagent/engage"
	"github.com/cleanapp/moltagent/ledger"
	"github.com/cleanapp/moltagent/moltbook"
	"github.com/cleanapp/moltagent/oracle"
	"github.com/cleanapp/moltagent/policy"
	"github.com/cleanapp/moltagent/prompts"
	"github.com/cleanapp/moltagent/util/cliutil"

	cli "github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

type service struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	engine *policy.Engine
	agent  *engage.Agent
}

func (s *service) Close() {
	if err := cliutil.CloseDatabase(s.db); err != nil {
		slog.Warn("failed to close database", "err", err)
	}
}

func limitsFromFlags(cctx *cli.Context) policy.Limits {
	return policy.Limits{
		MaxPostsPerDay:       cctx.Int("max-posts-per-day"),
		MaxCommentsPerDay:    cctx.Int("max-comments-per-day"),
		MaxOutreachPerDay:    cctx.Int("max-outreach-per-day"),
		PostCooldown:         cctx.Duration("post-cooldown"),
		OutreachCooldownDays: cctx.Int("outreach-cooldown-days"),
		MinPostLength:        cctx.Int("min-post-length"),
		MaxPostLength:        cctx.Int("max-post-length"),
		MinCommentLength:     cctx.Int("min-comment-length"),
		MaxCommentLength:     cctx.Int("max-comment-length"),
		MaxTitleLength:       policy.DefaultLimits().MaxTitleLength,
	}
}

func loadPolicyData(cctx *cli.Context) (policy.Data, error) {
	if p := cctx.String("policy-file"); p != "" {
		return policy.LoadPolicyFile(p)
	}
	return policy.DefaultData(), nil
}

func newMoltbookClient(cctx *cli.Context, logger *slog.Logger) (*moltbook.Client, error) {
	key := cctx.String("moltbook-api-key")
	if key == "" {
		return nil, fmt.Errorf("MOLTBOOK_API_KEY is required")
	}
	cfg := moltbook.DefaultConfig()
	cfg.Host = cctx.String("moltbook-host")
	cfg.APIKey = key
	cfg.DryRun = cctx.Bool("dry-run")
	return moltbook.NewClient(cfg, logger), nil
}

// setupLedgerOnly is enough for commands that read the ledger or evaluate policy; the
// agent it returns has no content source or oracle.
func setupLedgerOnly(cctx *cli.Context) (*service, error) {
	data, err := loadPolicyData(cctx)
	if err != nil {
		return nil, err
	}
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, err
	}
	led, err := ledger.Open(db)
	if err != nil {
		_ = cliutil.CloseDatabase(db)
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	engine := policy.NewEngine(led, limitsFromFlags(cctx), data, led.Now)

	cfg := engageConfig(cctx, data, slog.Default())
	return &service{
		db:     db,
		ledger: led,
		engine: engine,
		agent:  engage.NewAgent(cfg, led, engine, nil, nil, nil),
	}, nil
}

func engageConfig(cctx *cli.Context, data policy.Data, logger *slog.Logger) engage.Config {
	cfg := engage.DefaultConfig()
	cfg.Logger = logger
	cfg.Data = data
	cfg.DryRun = cctx.Bool("dry-run")
	cfg.RelevanceThreshold = cctx.Float64("relevance-threshold")
	cfg.SearchLimit = cctx.Int("search-limit")
	cfg.OutreachSearchLimit = cctx.Int("outreach-search-limit")
	cfg.WriteDelay = cctx.Duration("write-delay")
	cfg.SelfNames = cctx.StringSlice("self-names")
	if u := cctx.String("slack-webhook-url"); u != "" {
		cfg.Notifier = engage.NewSlackNotifier(u, logger)
	}
	return cfg
}

// checkReplyTemplates fails when a configured topic has no reply prompt to render.
func checkReplyTemplates(tpl *prompts.Set, data policy.Data) error {
	if missing := tpl.MissingReplies(data.ModeNames()); len(missing) > 0 {
		return fmt.Errorf("no prompt template for topics %v (have %v)", missing, tpl.Names())
	}
	return nil
}

// setupAgent validates credentials before touching the database, then wires the full agent.
func setupAgent(ctx context.Context, cctx *cli.Context) (*service, error) {
	logger := slog.Default()

	if cctx.String("gemini-api-key") == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := newMoltbookClient(cctx, logger)
	if err != nil {
		return nil, err
	}
	models, err := oracle.ParseModelList(cctx.String("gemini-models"))
	if err != nil {
		return nil, err
	}
	tpl, err := prompts.Load()
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	data, err := loadPolicyData(cctx)
	if err != nil {
		return nil, err
	}
	if err := checkReplyTemplates(tpl, data); err != nil {
		return nil, err
	}

	gen, err := oracle.NewGemini(ctx, oracle.GeminiConfig{
		APIKey: cctx.String("gemini-api-key"),
		Models: models,
	}, logger)
	if err != nil {
		return nil, err
	}

	svc, err := setupLedgerOnly(cctx)
	if err != nil {
		return nil, err
	}
	svc.agent = engage.NewAgent(svc.agent.Config, svc.ledger, svc.engine, client, gen, tpl)

	if cctx.Bool("dry-run") {
		logger.Info("dry-run mode: writes are logged, not sent")
	}
	return svc, nil
}
