package avatar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync/atomic"
)

// MockProvider returns deterministic references and video URLs for local
// runs without an avatar service.
type MockProvider struct {
	uploads atomic.Int64
	talks   atomic.Int64
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) UploadImage(ctx context.Context, image []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.uploads.Add(1)
	sum := sha256.Sum256(image)
	return "mock://images/" + hex.EncodeToString(sum[:8]), nil
}

func (p *MockProvider) CreateTalk(ctx context.Context, imageRef, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n := p.talks.Add(1)
	return fmt.Sprintf("mock://talks/%d.mp4?source=%s&text=%s", n, url.QueryEscape(imageRef), url.QueryEscape(text)), nil
}

// Uploads reports how many images were uploaded.
func (p *MockProvider) Uploads() int64 { return p.uploads.Load() }

// Talks reports how many videos were rendered.
func (p *MockProvider) Talks() int64 { return p.talks.Load() }
