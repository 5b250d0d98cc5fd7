// Package app wires configuration into a ready-to-serve object graph.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/mirrormind/internal/avatar"
	"github.com/ent0n29/mirrormind/internal/config"
	"github.com/ent0n29/mirrormind/internal/dialogue"
	"github.com/ent0n29/mirrormind/internal/escalation"
	"github.com/ent0n29/mirrormind/internal/httpapi"
	"github.com/ent0n29/mirrormind/internal/observability"
	"github.com/ent0n29/mirrormind/internal/reply"
	"github.com/ent0n29/mirrormind/internal/session"
	"github.com/ent0n29/mirrormind/internal/store"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Pipeline *dialogue.Pipeline
	Metrics  *observability.Metrics
	Backends httpapi.Backends

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build constructs every component from cfg. metrics may be nil.
func Build(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	snapshots, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot store init failed: %w", err)
	}

	replies, err := reply.NewAdapter(ctx, reply.Config{
		Mode:         cfg.ReplyProvider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
		HTTPURL:      cfg.ReplyHTTPURL,
	})
	if err != nil {
		_ = snapshots.Close()
		return nil, fmt.Errorf("reply adapter init failed: %w", err)
	}

	provider, err := avatar.NewProvider(avatar.Config{
		Mode:         cfg.AvatarProvider,
		DIDAPIKey:    cfg.DIDAPIKey,
		DIDBaseURL:   cfg.DIDBaseURL,
		PollInterval: cfg.DIDPollInterval,
		PollAttempts: cfg.DIDPollAttempts,
	})
	if err != nil {
		_ = snapshots.Close()
		return nil, fmt.Errorf("avatar provider init failed: %w", err)
	}

	tracker := escalation.NewTracker(cfg.EscalationMin, cfg.EscalationMax)
	sessions := session.NewManager(cfg.SessionInactivityTimeout, tracker)
	sessions.SetEndedRetention(cfg.SessionRetention)

	// Video rendering polls for up to PollInterval*PollAttempts.
	videoTimeout := cfg.RemoteCallTimeout
	if poll := cfg.DIDPollInterval * time.Duration(cfg.DIDPollAttempts); provider.Name() == "d-id" && poll > videoTimeout {
		videoTimeout = poll
	}
	coordinator := avatar.NewCoordinator(provider, sessions, videoTimeout, metrics, logger)

	pipeline := dialogue.New(dialogue.Config{
		TerminalCap:   cfg.TerminalCap,
		RemoteTimeout: cfg.RemoteCallTimeout,
	}, sessions, tracker, replies, coordinator, snapshots, metrics, logger)

	backends := httpapi.Backends{
		Reply:  reply.Name(replies),
		Avatar: provider.Name(),
		Store:  store.Mode(snapshots),
	}
	api := httpapi.New(cfg, pipeline, backends, metrics, logger)

	cleanup := func() error {
		if err := snapshots.Close(); err != nil {
			return fmt.Errorf("snapshot store close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Pipeline: pipeline,
		Metrics:  metrics,
		Backends: backends,
		Cleanup:  cleanup,
	}, nil
}
