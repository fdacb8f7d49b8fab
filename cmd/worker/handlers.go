package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remoteswe/worker/internal/agent"
	"github.com/remoteswe/worker/internal/config"
	"github.com/remoteswe/worker/internal/events"
	"github.com/remoteswe/worker/internal/kv"
	"github.com/remoteswe/worker/internal/ledger"
	"github.com/remoteswe/worker/internal/llm"
	"github.com/remoteswe/worker/internal/messages"
	"github.com/remoteswe/worker/internal/observability"
	"github.com/remoteswe/worker/internal/secrets"
	"github.com/remoteswe/worker/internal/sessions"
	"github.com/remoteswe/worker/internal/tools"
	"github.com/remoteswe/worker/pkg/models"
)

type runtimeOptions struct {
	logLevel    string
	logFormat   string
	prefsPath   string
	metricsAddr string
}

// runtime holds the wired collaborators of one worker process.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *sessions.Store
	messages *messages.Store
	ledger   *ledger.Ledger
	loop     *agent.Loop
}

func buildRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  opts.logLevel,
		Format: opts.logFormat,
	})
	metrics := observability.NewMetrics()
	if opts.metricsAddr != "" {
		go serveMetrics(opts.metricsAddr, logger)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.TableName == "" {
		return nil, errors.New("TABLE_NAME is not set")
	}
	store := kv.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.TableName)

	sessionStore := sessions.NewStore(store, logger)
	messageStore := messages.NewStore(store, logger)
	tokenLedger := ledger.New(store, logger)

	var (
		provider llm.Provider
		pool     *llm.AccountPool
	)
	switch cfg.Provider {
	case config.ProviderAnthropic:
		apiKey := cfg.AnthropicAPIKey
		if apiKey == "" && cfg.AnthropicAPIKeyParameterName != "" {
			reader := secrets.NewCached(secrets.NewSSMReader(ssm.NewFromConfig(awsCfg)))
			apiKey, err = reader.Get(ctx, cfg.AnthropicAPIKeyParameterName)
			if err != nil {
				return nil, fmt.Errorf("resolve Anthropic API key: %w", err)
			}
		}
		if apiKey == "" {
			return nil, errors.New("anthropic provider selected but no API key configured")
		}
		provider = llm.NewAnthropicProvider(apiKey, logger)
	default:
		pool = llm.NewAccountPool(awsCfg, cfg.BedrockAWSAccounts, cfg.BedrockRoleName, logger)
		provider = llm.NewBedrockProvider(pool, logger)
	}

	clientOpts := llm.Options{Pool: pool}
	if profile, ok := llm.ParseCRIProfile(cfg.CRIRegionOverride); ok {
		clientOpts.CRIProfiles = []llm.CRIProfile{profile}
	}
	client := llm.NewClient(provider, tokenLedger, logger, metrics, clientOpts)

	var publisher events.Publisher = events.NewRecorder()
	if cfg.EventHTTPEndpoint != "" {
		publisher = events.NewHTTPPublisher(cfg.EventHTTPEndpoint, logger)
	}

	prefs := &config.Preferences{}
	if opts.prefsPath != "" {
		prefs, err = config.LoadPreferences(opts.prefsPath)
		if err != nil {
			return nil, fmt.Errorf("load preferences: %w", err)
		}
	}

	loop := agent.NewLoop(agent.Deps{
		Messages:    messageStore,
		Sessions:    sessionStore,
		Ledger:      tokenLedger,
		Client:      client,
		Registry:    tools.NewBuiltinRegistry(sessionStore),
		Events:      publisher,
		Preferences: prefs,
		Logger:      logger,
		Metrics:     metrics,
	})

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		sessions: sessionStore,
		messages: messageStore,
		ledger:   tokenLedger,
		loop:     loop,
	}, nil
}

// handleRun executes one loop activation. With a message the text becomes a
// new user item and a full turn runs; without one the session is resumed.
func (rt *runtime) handleRun(ctx context.Context, workerID, message string) error {
	if message != "" {
		item := models.NewTextItem(models.RoleUser, models.MessageTypeUser, message)
		if _, err := rt.messages.Append(ctx, workerID, item); err != nil {
			return err
		}
		rt.logger.Info("user message appended", "workerId", workerID)
		return rt.loop.OnMessageReceived(ctx, workerID)
	}
	return rt.loop.Resume(ctx, workerID)
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
