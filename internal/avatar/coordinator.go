// Package avatar turns the user's photo into talking-head videos: the photo
// is registered with an image host once per session, and every line the
// mirror speaks becomes a fresh video rendered from that reference.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/mirrormind/internal/observability"
)

var (
	ErrInvalidInput       = errors.New("image is empty")
	ErrNotReady           = errors.New("image not registered")
	ErrRegistrationFailed = errors.New("image registration failed")
	ErrGenerationFailed   = errors.New("video generation failed")
)

// Provider is the remote avatar service.
type Provider interface {
	// UploadImage stores the image and returns a durable reference.
	UploadImage(ctx context.Context, image []byte, contentType string) (string, error)
	// CreateTalk renders text spoken by the face at imageRef and returns the video URL.
	CreateTalk(ctx context.Context, imageRef, text string) (string, error)
	Name() string
}

// RefStore holds the per-session registered image reference.
type RefStore interface {
	ImageRef(sessionID string) (string, error)
	// SetImageRef keeps an existing reference and returns whichever is in effect.
	SetImageRef(sessionID, ref string) (string, error)
}

// VideoHandle points at one rendered video. It is never cached or retried.
type VideoHandle struct {
	URL string `json:"video_url"`
}

type Coordinator struct {
	provider Provider
	refs     RefStore
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
	inflight singleflight.Group
}

func NewCoordinator(provider Provider, refs RefStore, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		provider: provider,
		refs:     refs,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger.Named("avatar"),
	}
}

// RegisterImage uploads image for the session unless a reference already
// exists, in which case the existing one is returned without a remote call.
// Concurrent first registrations for one session share a single upload.
func (c *Coordinator) RegisterImage(ctx context.Context, sessionID string, image []byte, contentType string) (string, error) {
	ref, err := c.refs.ImageRef(sessionID)
	if err != nil {
		return "", err
	}
	if ref != "" {
		c.metrics.ObserveRegistration("reused")
		return ref, nil
	}
	if len(image) == 0 {
		return "", ErrInvalidInput
	}

	v, err, _ := c.inflight.Do(sessionID, func() (any, error) {
		if ref, err := c.refs.ImageRef(sessionID); err != nil || ref != "" {
			return ref, err
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		uploaded, err := c.provider.UploadImage(callCtx, image, contentType)
		c.metrics.ObserveRemoteCall(c.provider.Name(), "upload_image", time.Since(start))
		if err == nil && strings.TrimSpace(uploaded) == "" {
			err = errors.New("provider returned empty reference")
		}
		if err != nil {
			c.metrics.ObserveRegistration("failed")
			c.metrics.ObserveProviderError(c.provider.Name(), errorCode(err))
			c.logger.Warn("image registration failed", zap.String("session_id", sessionID), zap.Error(err))
			return "", fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
		}
		c.metrics.ObserveRegistration("registered")
		c.logger.Info("image registered", zap.String("session_id", sessionID), zap.Int("bytes", len(image)))
		return c.refs.SetImageRef(sessionID, uploaded)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GenerateVideo renders text with the registered image. Every call reaches
// the provider.
func (c *Coordinator) GenerateVideo(ctx context.Context, imageRef, text string) (VideoHandle, error) {
	if strings.TrimSpace(imageRef) == "" {
		return VideoHandle{}, ErrNotReady
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	url, err := c.provider.CreateTalk(callCtx, imageRef, text)
	c.metrics.ObserveRemoteCall(c.provider.Name(), "create_talk", time.Since(start))
	if err == nil && strings.TrimSpace(url) == "" {
		err = errors.New("provider returned empty video url")
	}
	if err != nil {
		c.metrics.ObserveProviderError(c.provider.Name(), errorCode(err))
		return VideoHandle{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return VideoHandle{URL: url}, nil
}

func errorCode(err error) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http_%d", statusErr.Code)
	default:
		return "error"
	}
}
