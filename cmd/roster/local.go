package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecgard/roster/internal/account"
	"github.com/alecgard/roster/internal/client"
	"github.com/alecgard/roster/internal/config"
	"github.com/alecgard/roster/internal/crypto"
	"github.com/alecgard/roster/internal/kv"
	"github.com/alecgard/roster/internal/logging"
	"github.com/alecgard/roster/internal/metrics"
	"github.com/alecgard/roster/internal/outbox"
	"github.com/alecgard/roster/internal/profile"
	"github.com/alecgard/roster/internal/session"
	"github.com/alecgard/roster/internal/upload"
)

// localEnv is the client-side object graph shared by the interactive commands.
type localEnv struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	client    *client.Client
	manager   *account.Manager
	queue     *outbox.Queue
	connector *upload.Connector
}

// openLocal loads config and builds the local engine. Interactive commands
// log as text to stderr unless the config asks for something else.
func openLocal() (*localEnv, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	format := cfg.Log.Format
	if cfgFile == "" {
		format = "text"
	}
	logger, err := logging.Configure(os.Stderr, format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	var store kv.Store
	files, err := kv.NewFileStore(cfg.CacheDir())
	if err != nil {
		return nil, fmt.Errorf("opening local state: %w", err)
	}
	store = files
	cipher, err := crypto.NewCipher(cfg.Cache.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cache encryption key: %w", err)
	}
	if cipher != nil {
		store = kv.NewEncrypted(files, cipher)
	}

	queue, err := outbox.NewFileQueue(cfg.OutboxPath(), cfg.Upload.QueueCapacity)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.RegisterOutboxDepth(queue.Depth)

	env := &localEnv{cfg: cfg, logger: logger, metrics: m, queue: queue}

	cl, err := client.New(cfg.Remote.URL,
		client.WithTimeout(cfg.Remote.Timeout),
		client.WithLogger(logger),
		client.WithTokenSource(func() string {
			if env.manager == nil {
				return ""
			}
			return env.manager.Token()
		}),
	)
	if err != nil {
		return nil, err
	}
	env.client = cl

	cache := profile.NewCache(store, cfg.Cache.TTL, logger)
	env.manager = account.NewManager(account.Deps{
		Validator:     session.NewValidator(cl, cl, cfg.Session.ValidateTimeout, logger),
		Resolver:      profile.NewResolver(cl, cache, logger),
		Cache:         cache,
		Credentials:   account.NewCredentials(store, logger),
		Authenticator: cl,
		Writer:        cl,
	},
		account.WithRetryPolicy(cfg.RetryPolicy()),
		account.WithBootstrapTimeout(cfg.Session.BootstrapTimeout),
		account.WithObserver(m),
		account.WithLogger(logger),
	)

	env.connector = upload.NewConnector(queue, cl,
		upload.WithObserver(m),
		upload.WithLogger(logger),
		upload.WithFailureHistory(cfg.Upload.FailureHistory),
	)
	return env, nil
}

// signedIn bootstraps the manager and fails unless a session survived.
func (e *localEnv) signedIn(ctx context.Context) (account.Snapshot, error) {
	snap := e.manager.Bootstrap(ctx)
	if snap.Session == nil {
		if snap.Notice != "" {
			return snap, fmt.Errorf("not signed in (%s), run `roster login`", snap.Notice)
		}
		return snap, fmt.Errorf("not signed in, run `roster login`")
	}
	return snap, nil
}
