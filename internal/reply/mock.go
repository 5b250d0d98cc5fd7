package reply

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no backend is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.Text)
	if base == "" {
		base = "silence"
	}
	if len(req.History) == 0 {
		return fmt.Sprintf("I hear you: %s", base)
	}
	last := strings.TrimSpace(req.History[len(req.History)-1].Text)
	return fmt.Sprintf("I hear you: %s\nYou said before: %s", base, last)
}
