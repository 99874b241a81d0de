package notifier

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/dedup"
	"github.com/potooio/potoo-mailer/internal/recipients"
	"github.com/potooio/potoo-mailer/internal/secrets"
	"github.com/potooio/potoo-mailer/internal/templates"
	"github.com/potooio/potoo-mailer/internal/types"
)

// newTestDeps wires channels with in-memory collaborators. secretValues feeds
// the credential cache as plaintext.
func newTestDeps(t *testing.T, cfg *config.Config, secretValues map[string]string) (Deps, *dedup.MemoryStore) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger := zap.NewNop()
	store := dedup.NewMemoryStore()
	return Deps{
		Config:   cfg,
		Resolver: recipients.New(cfg, nil, logger),
		Renderer: templates.NewRenderer(logger),
		Gate:     dedup.NewGate(store, 0, logger),
		Secrets:  secrets.NewCache(secrets.Plaintext{}, secretValues, logger),
		Logger:   logger,
	}, store
}

func newTestEvent(to ...string) *types.Event {
	return &types.Event{
		Policy:         types.Policy{Name: "ec2-untagged", Resource: "aws.ec2"},
		Account:        "dev",
		AccountID:      "123456789012",
		Region:         "us-east-1",
		ExecutionStart: "run-1",
		SentAt:         1700000000,
		Resources: []types.Resource{
			{"InstanceId": "i-1"},
			{"InstanceId": "i-2"},
		},
		Action: types.Action{To: to},
	}
}

// fakeTransport records sent messages.
type fakeTransport struct {
	mu   sync.Mutex
	sent []*Message
	err  error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(_ context.Context, m *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) messages() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.sent...)
}
