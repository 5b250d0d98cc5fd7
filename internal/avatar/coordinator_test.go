package avatar

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRefs struct {
	mu   sync.Mutex
	refs map[string]string
}

func newMemRefs(ids ...string) *memRefs {
	r := &memRefs{refs: make(map[string]string)}
	for _, id := range ids {
		r.refs[id] = ""
	}
	return r
}

func (r *memRefs) ImageRef(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.refs[id]
	if !ok {
		return "", errors.New("unknown session")
	}
	return ref, nil
}

func (r *memRefs) SetImageRef(id, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs[id] == "" {
		r.refs[id] = ref
	}
	return r.refs[id], nil
}

type slowProvider struct {
	uploads atomic.Int64
	release chan struct{}
}

func (p *slowProvider) Name() string { return "slow" }

func (p *slowProvider) UploadImage(ctx context.Context, _ []byte, _ string) (string, error) {
	p.uploads.Add(1)
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "ref-shared", nil
}

func (p *slowProvider) CreateTalk(context.Context, string, string) (string, error) {
	return "", errors.New("not used")
}

type failingProvider struct {
	MockProvider
	failUpload bool
	failTalk   bool
}

func (p *failingProvider) UploadImage(ctx context.Context, image []byte, ct string) (string, error) {
	if p.failUpload {
		return "", errors.New("upload refused")
	}
	return p.MockProvider.UploadImage(ctx, image, ct)
}

func (p *failingProvider) CreateTalk(ctx context.Context, ref, text string) (string, error) {
	if p.failTalk {
		return "", &StatusError{Code: 500, Body: "boom"}
	}
	return p.MockProvider.CreateTalk(ctx, ref, text)
}

func TestRegisterImageIsIdempotent(t *testing.T) {
	provider := NewMockProvider()
	refs := newMemRefs("s1")
	c := NewCoordinator(provider, refs, time.Second, nil, nil)

	first, err := c.RegisterImage(context.Background(), "s1", []byte("B1"), "image/jpeg")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := c.RegisterImage(context.Background(), "s1", []byte("B2"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, provider.Uploads())
}

func TestRegisterImageRejectsEmptyImage(t *testing.T) {
	provider := NewMockProvider()
	c := NewCoordinator(provider, newMemRefs("s1"), time.Second, nil, nil)

	_, err := c.RegisterImage(context.Background(), "s1", nil, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, provider.Uploads())
}

func TestRegisterImageFailureLeavesRefUnset(t *testing.T) {
	provider := &failingProvider{failUpload: true}
	refs := newMemRefs("s1")
	c := NewCoordinator(provider, refs, time.Second, nil, nil)

	_, err := c.RegisterImage(context.Background(), "s1", []byte("img"), "image/png")
	require.ErrorIs(t, err, ErrRegistrationFailed)

	ref, err := refs.ImageRef("s1")
	require.NoError(t, err)
	assert.Empty(t, ref)

	provider.failUpload = false
	ref, err = c.RegisterImage(context.Background(), "s1", []byte("img"), "image/png")
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
}

func TestRegisterImageSharesConcurrentUpload(t *testing.T) {
	provider := &slowProvider{release: make(chan struct{})}
	c := NewCoordinator(provider, newMemRefs("s1"), 5*time.Second, nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.RegisterImage(context.Background(), "s1", []byte{byte(i + 1)}, "image/jpeg")
		}(i)
	}
	require.Eventually(t, func() bool { return provider.uploads.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "ref-shared", results[i])
	}
	assert.EqualValues(t, 1, provider.uploads.Load())
}

func TestGenerateVideoRequiresReference(t *testing.T) {
	c := NewCoordinator(NewMockProvider(), newMemRefs(), time.Second, nil, nil)
	_, err := c.GenerateVideo(context.Background(), "", "hello")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestGenerateVideoCallsProviderEveryTime(t *testing.T) {
	provider := NewMockProvider()
	c := NewCoordinator(provider, newMemRefs(), time.Second, nil, nil)

	a, err := c.GenerateVideo(context.Background(), "ref", "same words")
	require.NoError(t, err)
	b, err := c.GenerateVideo(context.Background(), "ref", "same words")
	require.NoError(t, err)

	assert.EqualValues(t, 2, provider.Talks())
	assert.NotEqual(t, a.URL, b.URL)
}

func TestGenerateVideoWrapsFailures(t *testing.T) {
	c := NewCoordinator(&failingProvider{failTalk: true}, newMemRefs(), time.Second, nil, nil)
	_, err := c.GenerateVideo(context.Background(), "ref", "hello")
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, "http_500", errorCode(&StatusError{Code: 500}))
}

func TestNewProviderModes(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	p, err = NewProvider(Config{DIDAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "d-id", p.Name())

	_, err = NewProvider(Config{Mode: "did"})
	assert.Error(t, err)

	_, err = NewProvider(Config{Mode: "heygen"})
	assert.Error(t, err)
}
