package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"engageflow/app"
	"engageflow/apperr"
	"engageflow/channel"
	"engageflow/config"
	"engageflow/db"
	"engageflow/event"
	"engageflow/logger"
	"engageflow/migrations"
	"engageflow/notify"
	"engageflow/outbox"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zl.Sync()
	lg := logger.NewZapAdapter(zl).WithFields(map[string]interface{}{
		"app": cfg.App.Name,
		"env": cfg.App.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.WithError(err).Error("engageflow exited", nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lg logger.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		applied, err := migrations.Apply(ctx, pool)
		if err != nil {
			return err
		}
		lg.Info("schema up to date", map[string]interface{}{"applied": applied})
	}

	opts := app.Options{
		Engagement:              cfg.Engagement,
		BestEffortNotifications: cfg.Notifications.BestEffort,
		Log:                     lg,
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.WithError(err).Warn("redis unavailable, channel cache disabled", map[string]interface{}{"address": cfg.Redis.Address})
		} else {
			opts.Channels = channel.NewCachedProvisioner(channel.NewPGProvisioner(), rdb, cfg.Redis.ChannelTTL, lg)
		}
	}

	if cfg.Email.Enabled || cfg.Notifications.SNSTopicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return err
		}
		if cfg.Email.Enabled {
			opts.Mailer = notify.NewSESMailer(ses.NewFromConfig(awsCfg), cfg.Email.FromAddress, cfg.Email.TemplatePrefix)
		}
		if cfg.Notifications.SNSTopicARN != "" {
			opts.SNS = sns.NewFromConfig(awsCfg)
			opts.SNSTopicARN = cfg.Notifications.SNSTopicARN
		}
	}

	engine := app.New(pool, opts)
	lg.Info("engagement services ready", map[string]interface{}{
		"default_currency": cfg.Engagement.DefaultCurrency,
		"absorb_residue":   cfg.Engagement.AbsorbRoundingResidue,
		"email":            cfg.Email.Enabled,
		"redis":            opts.Channels != nil,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Outbox.Enabled {
		publisher, err := outbox.NewAMQPPublisher(cfg.Outbox.AMQPURL, cfg.Outbox.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		relay := outbox.NewRelay(outbox.NewPGStore(pool), publisher, cfg.Outbox.BatchSize, cfg.Outbox.PollInterval, lg)
		g.Go(func() error { return relay.Run(gctx) })
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           newMux(pool, engine.Cascade, lg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		lg.Info("serving metrics", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type pinger interface {
	Ping(ctx context.Context) error
}

var _ pinger = (*pgxpool.Pool)(nil)

// rechecker re-runs the completion cascade for one contract.
type rechecker interface {
	Recheck(ctx context.Context, contractID string) ([]event.Event, error)
}

func newMux(database pinger, cascade rechecker, lg logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler(database))
	mux.HandleFunc("POST /admin/contracts/{id}/recheck", recheckHandler(cascade, lg))
	return mux
}

func recheckHandler(cascade rechecker, lg logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contractID := r.PathValue("id")
		events, err := cascade.Recheck(r.Context(), contractID)
		if err != nil {
			writeError(w, err)
			return
		}
		types := make([]string, 0, len(events))
		for _, evt := range events {
			types = append(types, string(evt.Type))
		}
		lg.Info("cascade recheck", map[string]interface{}{"contract_id": contractID, "events": types})
		writeJSON(w, http.StatusOK, map[string]any{"contractId": contractID, "events": types})
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind, _ := apperr.KindOf(err)
	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindUnauthorized:
		status = http.StatusForbidden
	case apperr.KindInvalidState:
		status = http.StatusConflict
	case apperr.KindValidation:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func healthHandler(database pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}
}
