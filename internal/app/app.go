package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cmslake/internal/awsclient"
	"cmslake/internal/config"
	"cmslake/internal/credentials"
	"cmslake/internal/database"
	"cmslake/internal/engine"
	"cmslake/internal/fs"
	"cmslake/internal/lake"
	"cmslake/internal/metrics"
	"cmslake/internal/staging"
	"cmslake/internal/vault"
)

// Options tunes how NewApp builds its collaborators. Zero values select the
// production defaults.
type Options struct {
	// Operation names the CLI command being run (e.g. "pull", "commit").
	Operation  string
	Parameters string

	// Logger replaces the file-and-stderr logger.
	Logger lake.Logger
	// StderrLevel is the lowest level echoed to stderr by the default
	// logger. Nil means warnings and errors only.
	StderrLevel slog.Leveler

	Clock      lake.Clock
	IDs        lake.IDGenerator
	HTTPClient *http.Client
	Metrics    *metrics.Recorder
}

// App is the application layer between the CLI and the sync pipeline. It
// constructs all dependencies from config, exposes high-level operations and
// releases every resource on Close.
type App struct {
	cfg     *config.Config
	op      *Operation
	logger  lake.Logger
	logFile *os.File

	clock   lake.Clock
	metrics *metrics.Recorder
	client  *http.Client

	cache       *credentials.Cache
	urlStore    io.Closer
	sessionPath string
	user        *credentials.User

	engine  *engine.Manager
	schema  *database.SchemaStore
	entries *database.EntryStore
	assets  *database.AssetStore

	vault       lake.Vault
	staging     lake.StagingArea
	scanner     *fs.Scanner
	coordinator *lake.Coordinator

	// syncMu serializes pulls and commits.
	syncMu      sync.Mutex
	schemaReady bool
	pulled      bool
}

// NewApp creates a fully wired App from the given config. Nothing touches the
// network or the engine until an operation needs it. The caller must call
// Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = lake.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = lake.UUIDGenerator{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Operation == "" {
		opts.Operation = "session"
	}

	a = &App{
		cfg:     cfg,
		op:      NewOperation(opts.Operation, opts.Parameters, opts.IDs, opts.Clock),
		logger:  opts.Logger,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		client:  opts.HTTPClient,
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.logger == nil {
		var level slog.Leveler = slog.LevelWarn
		if opts.StderrLevel != nil {
			level = opts.StderrLevel
		}
		logger, logFile, err := newLogger(cfg.LogDir, a.op.ID, level.Level())
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		a.logger = &slogAdapter{l: logger}
		a.logFile = logFile
	}

	s3c, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.setupCredentials(s3c); err != nil {
		return nil, err
	}

	a.vault, err = vault.NewVaultFromConfig(cfg.Vault, vault.Dependencies{
		Signer:     a.cache,
		HTTPClient: a.client,
		S3:         s3c,
		Bucket:     cfg.Repository.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	a.staging, err = staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	isAsset := fs.AssetClassifier(cfg.Content.AssetExtensions)
	if cfg.Content.Root != "" {
		a.scanner, err = fs.NewScanner(cfg.Content, a.logger)
		if err != nil {
			return nil, fmt.Errorf("creating content scanner: %w", err)
		}
		isAsset = a.scanner.IsAsset
	}

	a.engine, err = database.NewManagerFromConfig(cfg.Repository, engine.Options{
		QueueSize:  cfg.Engine.QueueSize,
		HTTPClient: a.client,
		Logger:     a.logger,
		Metrics:    a.metrics,
		IDs:        opts.IDs,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	repo := cfg.Repository
	a.schema = database.NewSchemaStore(a.logger)
	a.entries = database.NewEntryStore(a.engine, a.clock, a.logger)
	a.assets = database.NewAssetStore(a.engine, repo.Mode(), repo.Threshold(), a.clock, a.logger)
	a.coordinator = lake.NewCoordinator(a.entries, a.assets, a.vault, lake.CommitOptions{
		EntriesKey:      repo.EntriesSnapshotKey(),
		AssetsKey:       repo.AssetsSnapshotKey(),
		AssetMode:       repo.Mode(),
		InlineThreshold: repo.Threshold(),
		DefaultLocale:   cfg.Content.DefaultLocale,
		AssetKey:        repo.AssetObjectKey,
		IsAssetPath:     isAsset,
	}, a.clock, a.logger, a.metrics)

	a.logger.Debug("app ready", "operation", a.op.Name, "bucket", repo.Bucket,
		"vault", cfg.Vault.Type, "staging", cfg.Staging.Type, "catalog", repo.CatalogType)
	return a, nil
}

// s3Client builds the S3 client when direct signing or the s3 vault needs
// one.
func (a *App) s3Client(ctx context.Context) (*s3.Client, error) {
	if a.cfg.Credentials.Mode != "direct" && a.cfg.Vault.Type != "s3" {
		return nil, nil
	}
	c, err := awsclient.New(ctx, a.cfg.Repository, a.cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return c, nil
}

// setupCredentials builds the signed URL cache, points it at the configured
// issuer and restores a saved session.
func (a *App) setupCredentials(s3c *s3.Client) error {
	cc := a.cfg.Credentials
	opts := []credentials.Option{
		credentials.WithClock(a.clock),
		credentials.WithHTTPClient(a.client),
		credentials.WithLogger(a.logger),
		credentials.WithMetrics(a.metrics),
	}
	if cc.Cache == "redis" {
		store, err := credentials.NewRedisStore(credentials.RedisConfig{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
			Prefix:   cc.RedisPrefix,
		})
		if err != nil {
			return fmt.Errorf("creating url store: %w", err)
		}
		a.urlStore = store
		opts = append(opts, credentials.WithStore(store))
	}
	a.cache = credentials.NewCache(opts...)

	provider := string(a.cfg.Repository.StorageProvider)
	switch cc.Mode {
	case "direct":
		issuer := credentials.NewS3Issuer(s3c, a.cfg.Repository.Bucket, urlTTL(cc))
		if err := a.cache.ConfigureIssuer(issuer, provider); err != nil {
			return err
		}
	default:
		if err := a.cache.Configure(a.cfg.Repository.CredentialProxyURL, provider); err != nil {
			return err
		}
	}

	a.sessionPath = cc.SessionFile
	if a.sessionPath == "" {
		defaults, err := GetDefaults()
		if err != nil {
			return err
		}
		a.sessionPath = defaults["session_file"]
	}
	s, err := loadSession(a.sessionPath)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	if s.expired(a.clock.Now()) {
		a.logger.Info("saved session expired", "expired_at", s.ExpiresAt)
		return nil
	}
	if err := a.cache.SetSession(s.Token, s.ExpiresAt); err != nil {
		return err
	}
	a.user = s.user()
	return nil
}

// Operation returns the operation this App was created for.
func (a *App) Operation() *Operation {
	return a.op
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// User returns the signed-in user, or nil.
func (a *App) User() *credentials.User {
	return a.user
}

// author is the name recorded on staged changes.
func (a *App) author() string {
	if a.user == nil {
		return ""
	}
	if a.user.Login != "" {
		return a.user.Login
	}
	return strings.TrimSpace(a.user.Name)
}

// SignIn trades an OAuth token for a signing-service session, installs it
// and saves it for later invocations.
func (a *App) SignIn(ctx context.Context, oauthToken string) (*credentials.User, error) {
	if a.cfg.Credentials.Mode == "direct" {
		return nil, &lake.ConfigError{Field: "credentials.mode", Message: "direct mode signs with bucket credentials and has no session"}
	}
	res, err := credentials.ExchangeToken(ctx, a.client, credentials.ExchangeRequest{
		OAuthToken: oauthToken,
		Provider:   a.cfg.Credentials.OAuthProvider,
		ProxyURL:   a.cfg.Repository.CredentialProxyURL,
	})
	if err != nil {
		return nil, err
	}

	s := &sessionFile{
		Token:  res.SessionToken,
		UserID: string(res.User.ID),
		Login:  res.User.Login,
		Name:   res.User.Name,
		Email:  res.User.Email,
	}
	if res.ExpiresIn > 0 {
		s.ExpiresAt = a.clock.Now().Add(time.Duration(res.ExpiresIn) * time.Second).UTC()
	}
	// earlier signatures belong to the previous session
	if err := a.cache.ClearCredentials(ctx); err != nil {
		a.logger.Warn("clearing previous session", "error", err)
	}
	if err := a.cache.SetSession(s.Token, s.ExpiresAt); err != nil {
		return nil, err
	}
	if err := saveSession(a.sessionPath, s); err != nil {
		return nil, err
	}
	a.user = res.User
	a.logger.Info("signed in", "login", res.User.Login, "expires_at", s.ExpiresAt)
	return res.User, nil
}

// SignOut forgets the session: credentials and cached URLs, the saved
// session file and the engine. Every step runs; the first failure is
// returned.
func (a *App) SignOut(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := a.cache.ClearCredentials(ctx); err != nil {
		a.logger.Error("clearing credentials", "error", err)
		keep(fmt.Errorf("clearing credentials: %w", err))
	}
	if err := removeSession(a.sessionPath); err != nil {
		a.logger.Error("removing session", "error", err)
		keep(err)
	}
	if err := a.engine.Close(); err != nil {
		keep(fmt.Errorf("closing engine: %w", err))
	}

	a.syncMu.Lock()
	a.schemaReady, a.pulled = false, false
	a.syncMu.Unlock()

	a.user = nil
	a.logger.Info("signed out")
	return firstErr
}

// Close releases every resource. Each step runs even when an earlier one
// failed; the first failure is returned.
func (a *App) Close() error {
	var firstErr error

	if a.op != nil && !a.op.Finished() {
		a.op.Finish(nil, a.clock.Now())
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			firstErr = fmt.Errorf("closing engine: %w", err)
		}
	}
	if a.urlStore != nil {
		if err := a.urlStore.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing url store: %w", err)
		}
	}
	if a.logger != nil && a.op != nil {
		a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "duration", a.op.Duration())
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
		a.logFile = nil
	}
	return firstErr
}
