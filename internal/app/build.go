package app

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/ent0n29/mentorai/internal/agent"
	"github.com/ent0n29/mentorai/internal/config"
	"github.com/ent0n29/mentorai/internal/conversation"
	"github.com/ent0n29/mentorai/internal/httpapi"
	"github.com/ent0n29/mentorai/internal/ledger"
	"github.com/ent0n29/mentorai/internal/observability"
	"github.com/ent0n29/mentorai/internal/reliability"
	"github.com/ent0n29/mentorai/internal/responder"
	"github.com/ent0n29/mentorai/internal/session"
	"github.com/ent0n29/mentorai/internal/voice"
)

type VoiceInfo struct {
	Provider       string
	Detail         string
	DefaultVoiceID string
	DefaultModelID string
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Gateway   *conversation.Gateway
	Responder *responder.Provider
	Metrics   *observability.Metrics
	Voice     VoiceInfo
	Transport string

	// Cleanup should be called on shutdown to flush the ledger and close the store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := ledger.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ledger store init failed: %w", err)
	}
	ledgerMode := "in-memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		ledgerMode = "postgres"
	}
	writer := ledger.NewWriter(store, 0, func() {
		metrics.ObserveProviderError("ledger", "dropped")
	})

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		writer.Close()
		_ = store.Close()
		return nil, err
	}
	// Ensure API handlers know which backend is active (e.g. voices list).
	cfg.VoiceProvider = voiceSetup.resolvedProvider

	chain, err := buildResponder(cfg)
	if err != nil {
		writer.Close()
		_ = store.Close()
		return nil, err
	}

	voices := voice.NewVoiceSelector(voiceSetup.catalog, voiceSetup.defaultVoiceID, cfg.VoicePreferredVendors, cfg.VoicePreferredLocale)
	outputCfg := voice.OutputConfig{
		ModelID: voiceSetup.defaultModelID,
		Prosody: voice.Prosody{Rate: cfg.VoiceRate, Pitch: cfg.VoicePitch, Volume: cfg.VoiceVolume},
		Voices:  voices,
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
		writer.Append(ledger.Entry{SessionID: s.ID, Kind: ledger.KindSessionEnded, Detail: "expired"})
	})

	logger := otelslog.NewLogger("github.com/ent0n29/mentorai/internal/conversation")
	useAgent := cfg.UseAgentTransport()
	factory := func(sessionID string) (*conversation.Orchestrator, error) {
		orchCfg := conversation.Config{
			SessionID:      sessionID,
			CaptureTimeout: cfg.CaptureTimeout,
			Metrics:        metrics,
			Ledger:         writer,
			Logger:         logger,
		}
		if useAgent {
			orchCfg.Agent = agent.NewElevenLabsChannel(agent.Config{
				AgentID:        cfg.ElevenLabsAgentID,
				APIKey:         cfg.ElevenLabsAPIKey,
				WSBaseURL:      cfg.ElevenLabsWSBaseURL,
				ConnectTimeout: cfg.AgentConnectTimeout,
				QuietAfter:     cfg.AgentQuietAfter,
			})
		} else {
			orchCfg.Input = voice.NewInputChannel(voiceSetup.sttProvider, sessionID)
			orchCfg.Output = voice.NewOutputChannel(voiceSetup.ttsProvider, outputCfg)
			orchCfg.Responder = chain
		}
		return conversation.New(orchCfg), nil
	}
	gateway := conversation.NewGateway(factory, metrics)

	api := httpapi.New(cfg, sessions, metrics, httpapi.Options{
		Conversations: gateway,
		Responder:     chain,
		Voices:        voiceSetup.catalog,
		Preview:       voice.NewOutputChannel(voiceSetup.ttsProvider, outputCfg),
		Ledger:        store,
		LedgerWriter:  writer,
		LedgerMode:    ledgerMode,
	})

	transport := "native_speech"
	if useAgent {
		transport = "external_agent"
	}

	cleanup := func() error {
		var errs []string
		writer.Close()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Gateway:   gateway,
		Responder: chain,
		Metrics:   metrics,
		Voice: VoiceInfo{
			Provider:       cfg.VoiceProvider,
			Detail:         voiceSetup.detail,
			DefaultVoiceID: voiceSetup.defaultVoiceID,
			DefaultModelID: voiceSetup.defaultModelID,
		},
		Transport: transport,
		Cleanup:   cleanup,
	}, nil
}

// buildResponder assembles the remote strategy (when configured) in front of
// the rule matcher terminal.
func buildResponder(cfg config.Config) (*responder.Provider, error) {
	rules := responder.DefaultRules()
	if path := strings.TrimSpace(cfg.ResponderRulesFile); path != "" {
		loaded, err := responder.LoadRulesFile(path)
		if err != nil {
			return nil, fmt.Errorf("responder rules init failed: %w", err)
		}
		rules = loaded
	}
	terminal := responder.NewRuleMatcher(rules)

	if strings.TrimSpace(cfg.ResponderRemoteURL) == "" {
		return responder.NewProvider(terminal), nil
	}
	breaker := reliability.NewBreaker(reliability.BreakerConfig{
		Name:         "responder_remote",
		MaxFailures:  cfg.ResponderBreakerFailure,
		ResetTimeout: cfg.ResponderBreakerReset,
		Counts:       responder.BreakerCounts,
	})
	return responder.NewProvider(terminal, responder.NewHTTPStrategy(cfg.ResponderRemoteURL, cfg.ResponderTimeout, breaker)), nil
}
