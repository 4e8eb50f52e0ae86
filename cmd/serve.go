package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/attribution"
	"github.com/sells-group/leadsync/internal/crm"
	"github.com/sells-group/leadsync/internal/intake"
	"github.com/sells-group/leadsync/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lead intake and attribution server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rdb, err := initRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close() //nolint:errcheck
		}

		tables, err := loadTables(cfg.Routing)
		if err != nil {
			return err
		}
		crmStore, err := initCRM(cfg, tables)
		if err != nil {
			return err
		}

		m, metricsHandler := newMetrics(cfg.Metrics, st)
		breakers := newBreakers(m)
		locker := initLocker(rdb, cfg.CRM)

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st, breakers.States),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		syncer := crm.NewSyncer(crmStore, tables,
			crm.WithLocker(locker),
			crm.WithBreaker(breakers.Get("crm")),
			crm.WithTimeout(time.Duration(cfg.CRM.TimeoutSecs)*time.Second),
			crm.WithMetrics(m),
		)
		svc := intake.NewService(syncer,
			intake.WithNotifier(initNotifier(cfg)),
			intake.WithMetrics(m),
		)

		sessionTTL := time.Duration(cfg.Attribution.SessionTTLMins) * time.Minute
		var sessions attribution.SessionStore = attribution.NewMemorySessionStore(sessionTTL)
		if rdb != nil {
			sessions = attribution.NewRedisSessionStore(rdb, sessionTTL)
		}
		attr := attribution.NewHTTP(attribution.NewTracker(sessions, locker, m), attribution.HTTPOptions{
			CookieName: cfg.Attribution.CookieName,
			CookieTTL:  sessionTTL,
			SelfHosts:  cfg.Attribution.SelfHosts,
		})

		var limiter *intake.IPLimiter
		if cfg.Server.RateLimitPerMin > 0 {
			limiter = intake.NewIPLimiter(cfg.Server.RateLimitPerMin)
		}

		handler := newRouter(routerDeps{
			Intake:         intake.NewHandler(svc, attr.Lookup),
			Attribution:    attr,
			Limiter:        limiter,
			Metrics:        metricsHandler,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// routerDeps are the handlers mounted by newRouter. Nil Limiter and Metrics
// disable rate limiting and the /metrics endpoint.
type routerDeps struct {
	Intake         http.Handler
	Attribution    *attribution.HTTP
	Limiter        *intake.IPLimiter
	Metrics        http.Handler
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Attribution.Middleware)

		r.Get("/api/attribution", d.Attribution.SnapshotHandler)
		r.Post("/api/attribution/touch", d.Attribution.RecordHandler)

		leads := d.Intake
		if d.Limiter != nil {
			leads = d.Limiter.Middleware(leads)
		}
		r.Handle("/api/v3/push-enhanced-lead", leads)
		r.Handle("/api/leads", leads)
	})

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
