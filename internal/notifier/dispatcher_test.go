package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/types"
)

// stubChannel is a scripted Channel.
type stubChannel struct {
	name    string
	accepts bool
	results []types.ChannelResult
	panics  bool
	calls   *[]string
}

func (s *stubChannel) Name() string                { return s.name }
func (s *stubChannel) Accepts(_ *types.Event) bool { return s.accepts }

func (s *stubChannel) Deliver(_ context.Context, _ *types.Event) []types.ChannelResult {
	if s.calls != nil {
		*s.calls = append(*s.calls, s.name)
	}
	if s.panics {
		panic("boom")
	}
	return s.results
}

func TestNewDispatcher_SortsChannels(t *testing.T) {
	d := NewDispatcher(zap.NewNop(),
		&stubChannel{name: ChannelSplunkHEC},
		&stubChannel{name: "custom"},
		&stubChannel{name: ChannelEmail},
		&stubChannel{name: ChannelJira},
		&stubChannel{name: ChannelSlack},
	)
	assert.Equal(t, []string{ChannelJira, ChannelEmail, ChannelSlack, ChannelSplunkHEC, "custom"}, d.Channels())
}

func TestDispatch_RunsAcceptingChannelsInOrder(t *testing.T) {
	var calls []string
	d := NewDispatcher(zap.NewNop(),
		&stubChannel{name: ChannelSlack, accepts: true, calls: &calls,
			results: []types.ChannelResult{types.Delivered(ChannelSlack, "#ops")}},
		&stubChannel{name: ChannelTopic, accepts: false, calls: &calls},
		&stubChannel{name: ChannelEmail, accepts: true, calls: &calls,
			results: []types.ChannelResult{types.Delivered(ChannelEmail, "a@example.com")}},
	)

	ev := newTestEvent()
	d.Dispatch(context.Background(), ev)

	assert.Equal(t, []string{ChannelEmail, ChannelSlack}, calls)
	require.Len(t, ev.Results, 2)
	assert.Equal(t, "a@example.com", ev.Delivered["delivered_email"])
	assert.Equal(t, "#ops", ev.Delivered["delivered_slack"])
	assert.Empty(t, ev.Failures())
}

func TestDispatch_FailureIsolation(t *testing.T) {
	var calls []string
	d := NewDispatcher(zap.NewNop(),
		&stubChannel{name: ChannelJira, accepts: true, calls: &calls,
			results: []types.ChannelResult{types.Failed(ChannelJira, "OPS", errors.New("jira down"))}},
		&stubChannel{name: ChannelEmail, accepts: true, calls: &calls,
			results: []types.ChannelResult{types.Delivered(ChannelEmail, "a@example.com")}},
	)

	ev := newTestEvent()
	d.Dispatch(context.Background(), ev)

	assert.Equal(t, []string{ChannelJira, ChannelEmail}, calls)
	assert.Equal(t, "jira down", ev.Delivered["delivered_jira_error"])
	assert.Equal(t, "a@example.com", ev.Delivered["delivered_email"])
	assert.NotContains(t, ev.Delivered, "delivered_email_error")
	require.Len(t, ev.Failures(), 1)
	assert.Equal(t, ChannelJira, ev.Failures()[0].Channel)
}

func TestDispatch_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	var calls []string
	d := NewDispatcher(zap.New(core),
		&stubChannel{name: ChannelTopic, accepts: true, panics: true, calls: &calls},
		&stubChannel{name: ChannelSlack, accepts: true, calls: &calls,
			results: []types.ChannelResult{types.Delivered(ChannelSlack, "#ops")}},
	)

	ev := newTestEvent()
	require.NotPanics(t, func() { d.Dispatch(context.Background(), ev) })

	assert.Equal(t, []string{ChannelTopic, ChannelSlack}, calls)
	assert.Equal(t, "panic: boom", ev.Delivered["delivered_topic_error"])
	assert.Equal(t, "#ops", ev.Delivered["delivered_slack"])
	assert.Equal(t, 1, logs.FilterMessage("Channel panicked").Len())
}

func TestDispatch_MarkersAreWriteOnce(t *testing.T) {
	d := NewDispatcher(zap.NewNop(),
		&stubChannel{name: ChannelEmail, accepts: true, results: []types.ChannelResult{
			types.Delivered(ChannelEmail, "a@example.com"),
			types.Delivered(ChannelEmail, "b@example.com"),
		}},
	)

	ev := newTestEvent()
	d.Dispatch(context.Background(), ev)

	assert.Len(t, ev.Results, 2)
	assert.Equal(t, "a@example.com", ev.Delivered["delivered_email"])
}

func TestDispatch_SkippedResultsHaveNoMarker(t *testing.T) {
	d := NewDispatcher(zap.NewNop(),
		&stubChannel{name: ChannelEmail, accepts: true, results: []types.ChannelResult{
			types.Skipped(ChannelEmail, "a@example.com", "duplicate"),
		}},
	)

	ev := newTestEvent()
	d.Dispatch(context.Background(), ev)

	require.Len(t, ev.Results, 1)
	assert.True(t, ev.Results[0].Skipped)
	assert.Empty(t, ev.Delivered)
}

func TestDispatch_WarnsWhenNothingAccepts(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d := NewDispatcher(zap.New(core), &stubChannel{name: ChannelEmail})

	ev := newTestEvent("gopher://nowhere")
	d.Dispatch(context.Background(), ev)

	assert.Empty(t, ev.Results)
	assert.Equal(t, 1, logs.FilterMessage("No channel accepted event").Len())
}

func TestBuild_AllChannelsInOrder(t *testing.T) {
	deps, _ := newTestDeps(t, nil, nil)
	channels := Build(deps)

	var names []string
	for _, c := range channels {
		names = append(names, c.Name())
	}
	assert.Equal(t, Order, names)
}

func TestBuild_InvalidExpressionsDoNotFail(t *testing.T) {
	deps, _ := newTestDeps(t, &config.Config{JiraProjectKey: "a[?", ServiceNowITServiceKey: "b[?"}, nil)
	assert.Len(t, Build(deps), len(Order))
}
