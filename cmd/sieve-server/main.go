// Command sieve-server is the invoice anomaly sieve's HTTP entrypoint: it
// wires the scoring core's components from environment configuration and
// serves POST /scoreInvoice and GET /invoice/{invoice_id}/decision
// (spec.md §6).
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/anomaly"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/auditlog"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/candidates"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/cases"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/configstore"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/decision"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/dupscore"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/httpapi"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/orchestrator"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/rules"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/snapshotstore"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/textindex"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/textindex/impl_inmem"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/textindex/impl_postgres"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/clock"
)

// serverConfig holds every environment-driven setting the root command
// binds to flags (spec.md §6 "Environment").
type serverConfig struct {
	listenAddr    string
	dbDSN         string
	jwtSecret     string
	jwtAudience   string
	jwtIssuer     string
	devToken      string
	devTenant     string
	modelPath     string
	textIndexKind string // "postgres" or "inmem"
}

func main() {
	cfg := &serverConfig{}
	root := newRootCmd(cfg)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *serverConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sieve-server",
		Short: "Serve the invoice anomaly sieve scoring API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.listenAddr, "listen-addr", envOr("SIEVE_LISTEN_ADDR", ":8080"), "HTTP listen address")
	flags.StringVar(&cfg.dbDSN, "db-dsn", os.Getenv("SIEVE_DB_DSN"), "Postgres connection string")
	flags.StringVar(&cfg.jwtSecret, "jwt-secret", os.Getenv("SIEVE_JWT_SECRET"), "HMAC secret for Bearer token validation")
	flags.StringVar(&cfg.jwtAudience, "jwt-audience", envOr("SIEVE_JWT_AUDIENCE", "invoice-anomaly-sieve"), "Expected JWT audience")
	flags.StringVar(&cfg.jwtIssuer, "jwt-issuer", envOr("SIEVE_JWT_ISSUER", "invoice-anomaly-sieve"), "Expected JWT issuer")
	flags.StringVar(&cfg.devToken, "dev-token", os.Getenv("SIEVE_DEV_TOKEN"), "Literal bearer value accepted as a development bypass (empty disables it)")
	flags.StringVar(&cfg.devTenant, "dev-tenant", os.Getenv("SIEVE_DEV_TENANT"), "Tenant ID attributed to requests authenticated via --dev-token")
	flags.StringVar(&cfg.modelPath, "model-path", os.Getenv("SIEVE_MODEL_PATH"), "Path to the duplicate-scorer model artifact JSON (empty uses the heuristic fallback)")
	flags.StringVar(&cfg.textIndexKind, "text-index", envOr("SIEVE_TEXT_INDEX", "postgres"), "Text index backend: postgres or inmem")

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(cfg *serverConfig) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	if cfg.dbDSN == "" {
		return fmt.Errorf("--db-dsn (or SIEVE_DB_DSN) is required")
	}

	db, err := sqlx.Open("postgres", cfg.dbDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	clk := clock.RealClock{}
	store := snapshotstore.New(db, log)

	var textIdx textindex.Index
	switch cfg.textIndexKind {
	case "inmem":
		textIdx = impl_inmem.New()
	case "postgres", "":
		textIdx = impl_postgres.New(db, log)
	default:
		return fmt.Errorf("unknown --text-index backend %q", cfg.textIndexKind)
	}

	retriever := candidates.New(store, store.DB(), textIdx, log)
	baselines := anomaly.NewBaselineStore(store.DB(), log)
	anomalyScorer := anomaly.New(baselines, log)
	ruleEngine := rules.New()
	cfgStore := configstore.New(db, log)
	decisionEngine := decision.New(cfgStore)
	caseMgr := cases.New(clk)
	audit := auditlog.New(clk)
	scorer := dupscore.Load(cfg.modelPath, log)

	orch := orchestrator.New(orchestrator.Config{
		Store: store, TextIndex: textIdx, Retriever: retriever,
		Anomaly: anomalyScorer, Rules: ruleEngine, DupScorer: scorer,
		Decision: decisionEngine, Cases: caseMgr, Audit: audit,
		Clock: clk, Log: log,
	})

	auth := httpapi.AuthConfig{
		Secret: []byte(cfg.jwtSecret), Audience: cfg.jwtAudience, Issuer: cfg.jwtIssuer,
		DevToken: cfg.devToken, DevTenant: cfg.devTenant,
	}
	apiServer := httpapi.New(orch, store, auth, log)

	httpSrv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("sieve-server listening", zap.String("addr", cfg.listenAddr), zap.String("text_index", cfg.textIndexKind))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
