package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is an in-memory Provider used by tests and local development.
// It never touches a real cloud runtime; every command succeeds immediately
// unless a hook says otherwise.
type MockProvider struct {
	mu sync.Mutex

	// CreateErr, when set, is returned by every Create call.
	CreateErr error

	// RunHook, when set, is consulted by every handle's Run call and lets
	// tests simulate failures (e.g. a non-zero exit code for "npm install").
	RunHook func(handle string, cmd string) (CommandResult, error)

	// HostErr, when set, is returned by every Host call.
	HostErr error

	handles map[string]*mockHandle
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{handles: make(map[string]*mockHandle)}
}

func (p *MockProvider) Create(ctx context.Context, template string) (Handle, error) {
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	h := &mockHandle{
		id:       "sb-" + uuid.NewString(),
		template: template,
		provider: p,
		files:    make(map[string][]byte),
	}
	p.mu.Lock()
	p.handles[h.id] = h
	p.mu.Unlock()
	return h, nil
}

// Destroyed reports whether the named sandbox has been torn down. Useful
// for assertions in tests.
func (p *MockProvider) Destroyed(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[id]
	return !ok || h.destroyed
}

type mockHandle struct {
	mu        sync.Mutex
	id        string
	template  string
	provider  *MockProvider
	files     map[string][]byte
	destroyed bool
}

func (h *mockHandle) ID() string { return h.id }

func (h *mockHandle) WriteFile(ctx context.Context, path string, content []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	h.files[path] = cp
	return nil
}

func (h *mockHandle) Run(ctx context.Context, cmd string, opts RunOptions) (CommandResult, error) {
	if h.provider.RunHook != nil {
		return h.provider.RunHook(h.id, cmd)
	}
	if opts.Background {
		return CommandResult{PID: 1}, nil
	}
	return CommandResult{ExitCode: 0}, nil
}

func (h *mockHandle) Host(ctx context.Context, port int) (string, error) {
	if h.provider.HostErr != nil {
		return "", h.provider.HostErr
	}
	return fmt.Sprintf("https://%s.sandbox.local:%d", h.id, port), nil
}

func (h *mockHandle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
	return nil
}
