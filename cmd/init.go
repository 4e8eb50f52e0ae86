package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/config"
	"github.com/sells-group/leadsync/internal/crm"
	"github.com/sells-group/leadsync/internal/lock"
	"github.com/sells-group/leadsync/internal/metrics"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/notify"
	"github.com/sells-group/leadsync/internal/reconcile"
	"github.com/sells-group/leadsync/internal/resilience"
	"github.com/sells-group/leadsync/internal/routing"
	"github.com/sells-group/leadsync/internal/store"
	"github.com/sells-group/leadsync/pkg/brevo"
	"github.com/sells-group/leadsync/pkg/googleads"
	sfpkg "github.com/sells-group/leadsync/pkg/salesforce"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite", "":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadsync.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRedis returns nil when no address is configured.
func initRedis(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "redis: ping %s", c.Addr)
	}
	zap.L().Info("redis connected", zap.String("addr", c.Addr))
	return rdb, nil
}

func initLocker(rdb *redis.Client, c config.CRMConfig) lock.Locker {
	if rdb == nil {
		return lock.NewMemoryLocker()
	}
	return lock.NewRedisLocker(rdb, lock.WithTTL(time.Duration(c.LockTTLSecs)*time.Second))
}

func loadTables(c config.RoutingConfig) (*routing.Tables, error) {
	if c.ConfigPath == "" {
		return routing.Default(), nil
	}
	t, err := routing.Load(c.ConfigPath)
	if err != nil {
		return nil, eris.Wrap(err, "load routing tables")
	}
	return t, nil
}

func newBrevoClient(c *config.Config) brevo.Client {
	return brevo.NewClient(c.CRM.Brevo.APIKey,
		brevo.WithBaseURL(c.CRM.Brevo.BaseURL),
		brevo.WithRateLimit(c.CRM.RateLimit),
	)
}

func initCRM(c *config.Config, tables *routing.Tables) (crm.Store, error) {
	switch c.CRM.Provider {
	case "brevo":
		var lists []int64
		if c.CRM.Brevo.ListID > 0 {
			lists = append(lists, int64(c.CRM.Brevo.ListID))
		}
		return crm.NewBrevoStore(newBrevoClient(c), tables, lists...), nil
	case "salesforce":
		client, err := initSalesforce(c.CRM)
		if err != nil {
			return nil, err
		}
		return crm.NewSalesforceStore(client, tables), nil
	default:
		return nil, eris.Errorf("unsupported crm provider: %s", c.CRM.Provider)
	}
}

func initSalesforce(c config.CRMConfig) (sfpkg.Client, error) {
	if c.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADSYNC_CRM_SALESFORCE_CLIENT_ID)")
	}
	pemData, err := os.ReadFile(c.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}
	return sfpkg.Connect(sfpkg.Creds{
		LoginURL: c.Salesforce.LoginURL,
		Username: c.Salesforce.Username,
		ClientID: c.Salesforce.ClientID,
		KeyPEM:   string(pemData),
	}, sfpkg.WithRateLimit(c.RateLimit))
}

func initNotifier(c *config.Config) notify.Notifier {
	from := notify.Address{Name: c.Notify.SenderName, Email: c.Notify.SenderEmail}
	to := notify.Address{Name: c.Notify.ToName, Email: c.Notify.ToEmail}

	switch c.Notify.Provider {
	case "brevo":
		return notify.NewBrevoNotifier(newBrevoClient(c), from, to)
	case "smtp":
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     c.Notify.SMTP.Host,
			Port:     c.Notify.SMTP.Port,
			Username: c.Notify.SMTP.Username,
			Password: c.Notify.SMTP.Password,
			StartTLS: c.Notify.SMTP.StartTLS,
			From:     from,
			To:       to,
		})
	default:
		zap.L().Info("hot-lead notifications disabled")
		return notify.Noop{}
	}
}

// initUploader returns nil when ad platform credentials are incomplete, which
// sends every run to the manual-upload export.
func initUploader(c config.AdsConfig) reconcile.Uploader {
	if !c.Configured() {
		zap.L().Info("google ads credentials not set, conversions will be exported for manual upload")
		return nil
	}
	opts := []googleads.Option{
		googleads.WithTimeout(time.Duration(c.TimeoutSecs) * time.Second),
	}
	if c.BaseURL != "" {
		opts = append(opts, googleads.WithBaseURL(c.BaseURL))
	}
	if c.APIVersion != "" {
		opts = append(opts, googleads.WithAPIVersion(c.APIVersion))
	}
	client := googleads.NewClient(googleads.Credentials{
		CustomerID:      c.CustomerID,
		LoginCustomerID: c.LoginCustomerID,
		DeveloperToken:  c.DeveloperToken,
		ClientID:        c.ClientID,
		ClientSecret:    c.ClientSecret,
		RefreshToken:    c.RefreshToken,
		TokenURL:        c.TokenURL,
	}, opts...)
	return reconcile.NewAdsUploader(client, c.ConversionActions)
}

func initExporter(c config.ReconcileConfig, timeout time.Duration) (*reconcile.Exporter, error) {
	opts := []reconcile.ExportOption{reconcile.WithXLSX(c.XLSX)}
	if c.FTPURL != "" {
		p, err := reconcile.NewFTPPusher(c.FTPURL, timeout)
		if err != nil {
			return nil, eris.Wrap(err, "reconcile.ftp_url")
		}
		opts = append(opts, reconcile.WithPusher(p))
	}
	return reconcile.NewExporter(c.ExportDir, opts...), nil
}

func newBreakers(m *metrics.Metrics) *resilience.Breakers {
	return resilience.NewBreakers(resilience.BreakerConfig{
		Threshold:     5,
		Cooldown:      30 * time.Second,
		OnStateChange: m.BreakerStateChange,
	})
}

// newMetrics returns the collectors and their registry, or nil for both when
// metrics are disabled. runs may be nil.
func newMetrics(c config.MetricsConfig, runs store.Store) (*metrics.Metrics, http.Handler) {
	if !c.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if runs != nil {
		reg.MustRegister(metrics.NewRunCollector(runLister{runs}))
	}
	return m, m.Handler()
}

// runLister adapts store.Store to metrics.RunLister.
type runLister struct {
	st store.Store
}

func (l runLister) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	return l.st.ListRuns(ctx, store.RunFilter{Limit: limit})
}
