package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/dedup"
	"github.com/potooio/potoo-mailer/internal/directory"
	"github.com/potooio/potoo-mailer/internal/notifier"
	"github.com/potooio/potoo-mailer/internal/queue"
	"github.com/potooio/potoo-mailer/internal/recipients"
	"github.com/potooio/potoo-mailer/internal/secrets"
	"github.com/potooio/potoo-mailer/internal/templates"
)

// directoryCacheTTL bounds how long directory lookups are reused.
const directoryCacheTTL = 24 * time.Hour

// app holds the wired mailer and everything that needs closing.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	awsCfg     aws.Config
	dispatcher *notifier.Dispatcher
	gate       *dedup.Gate
	source     queue.Source
	closers    []func()
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// consumer builds a consumer for one drain.
func (a *app) consumer(workers int) *queue.Consumer {
	if workers < 1 {
		workers = a.cfg.PoolSize()
	}
	return queue.NewConsumer(a.source, a.dispatcher, workers, a.cfg.BatchSize, a.logger)
}

// secretValues maps credential field names to their configured values.
func secretValues(cfg *config.Config) map[string]string {
	return map[string]string{
		"smtp_password":      cfg.SMTPPassword,
		"sendgrid_api_key":   cfg.SendGridAPIKey,
		"ldap_bind_password": cfg.LDAPBindPassword,
		"jira_basic_auth":    cfg.JiraBasicAuth,
		"slack_token":        cfg.SlackToken,
		"datadog_api_key":    cfg.DatadogAPIKey,
		"splunk_hec_token":   cfg.SplunkHECToken,
	}
}

// buildApp wires every component from the configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Region))
	}
	a.awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var decrypter secrets.Decrypter = secrets.Plaintext{}
	if cfg.KMSKeyID != "" {
		decrypter = secrets.NewKMSDecrypter(kms.NewFromConfig(a.awsCfg), cfg.KMSKeyID, logger)
	}
	creds := secrets.NewCache(decrypter, secretValues(cfg), logger)

	dir, err := a.buildDirectory(ctx, creds)
	if err != nil {
		return nil, err
	}
	resolver := recipients.New(cfg, dir, logger)

	var s3Client templates.S3API
	for _, folder := range cfg.TemplatesFolders {
		if strings.HasPrefix(folder, "s3://") {
			s3Client = s3.NewFromConfig(a.awsCfg)
			break
		}
	}
	renderer, err := templates.Load(ctx, cfg.TemplatesFolders, s3Client, logger)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	store := a.buildDedupStore(ctx)
	gate := dedup.NewGate(store, time.Duration(cfg.DedupTTLHours)*time.Hour, logger)
	a.gate = gate

	sesClient := ses.NewFromConfig(a.awsCfg, func(o *ses.Options) {
		if cfg.SESRegion != "" {
			o.Region = cfg.SESRegion
		}
	})
	transport, err := notifier.NewTransport(cfg, creds, sesClient)
	if err != nil {
		return nil, err
	}

	deps := notifier.Deps{
		Config:    cfg,
		Resolver:  resolver,
		Renderer:  renderer,
		Gate:      gate,
		Secrets:   creds,
		Logger:    logger,
		Transport: transport,
		SNS:       sns.NewFromConfig(a.awsCfg),
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("potoo-mailer"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.onClose(func() {
			if err := nc.Drain(); err != nil {
				nc.Close()
			}
		})
		deps.NATS = nc
	}

	a.dispatcher = notifier.NewDispatcher(logger, notifier.Build(deps)...)

	source, closeSource, err := queue.Open(ctx, cfg, a.awsCfg, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		if err := closeSource(); err != nil {
			logger.Warn("Failed to close queue client", zap.Error(err))
		}
	})
	a.source = source

	logger.Info("Mailer wired",
		zap.String("queue", source.Name()),
		zap.String("transport", transport.Name()),
		zap.Bool("dedup", store != nil),
		zap.Bool("ldap", dir != nil),
		zap.Strings("channels", a.dispatcher.Channels()))
	return a, nil
}

// buildDirectory returns nil when no LDAP server is configured.
func (a *app) buildDirectory(ctx context.Context, creds *secrets.Cache) (recipients.Directory, error) {
	cfg := a.cfg
	if cfg.LDAPURI == "" {
		return nil, nil
	}
	password, err := creds.Get(ctx, "ldap_bind_password")
	if err != nil {
		return nil, fmt.Errorf("ldap_bind_password: %w", err)
	}
	ldapSource := directory.NewLDAP(directory.LDAPConfig{
		URI:              cfg.LDAPURI,
		BaseDN:           cfg.LDAPBindDN,
		BindUser:         cfg.LDAPBindUser,
		Password:         password,
		UIDAttribute:     cfg.LDAPUIDAttribute,
		EmailAttribute:   cfg.LDAPEmailAttribute,
		ManagerAttribute: cfg.LDAPManagerAttribute,
	}, a.logger)
	a.onClose(ldapSource.Close)

	var cache directory.Cache
	switch {
	case cfg.RedisURL != "":
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = client.Close() })
		cache = directory.NewRedisCache(client, directoryCacheTTL)
	case cfg.LDAPCacheFile != "":
		sqliteCache, err := directory.OpenSQLiteCache(ctx, cfg.LDAPCacheFile)
		if err != nil {
			return nil, fmt.Errorf("open ldap cache: %w", err)
		}
		a.onClose(func() { _ = sqliteCache.Close() })
		cache = sqliteCache
	default:
		cache = directory.NewMemoryCache()
	}
	return directory.New(ldapSource, cache, a.logger), nil
}

// buildDedupStore returns nil (dedup disabled) when no backend is configured
// or the configured one cannot be set up. Dedup failures never stop the
// mailer; the gate fails open instead.
func (a *app) buildDedupStore(ctx context.Context) dedup.Store {
	cfg := a.cfg
	switch {
	case cfg.DedupTableName != "":
		return dedup.NewDynamoStore(dynamodb.NewFromConfig(a.awsCfg), cfg.DedupTableName)
	case cfg.DedupRedisURL != "":
		client, err := newRedisClient(cfg.DedupRedisURL)
		if err != nil {
			a.logger.Warn("Dedup store disabled", zap.String("backend", "redis"), zap.Error(err))
			return nil
		}
		a.onClose(func() { _ = client.Close() })
		return dedup.NewRedisStore(client)
	case cfg.DedupPostgresDSN != "":
		// pgxpool dials lazily; an unreachable server shows up on first use.
		pool, err := pgxpool.New(ctx, cfg.DedupPostgresDSN)
		if err != nil {
			a.logger.Warn("Dedup store disabled", zap.String("backend", "postgres"), zap.Error(err))
			return nil
		}
		a.onClose(pool.Close)
		return dedup.NewPostgresStore(pool)
	default:
		a.logger.Info("No dedup store configured, duplicate suppression disabled")
		return nil
	}
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
