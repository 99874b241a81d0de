package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/types"
)

type fakeSlack struct {
	mu       sync.Mutex
	posted   map[string]int
	users    map[string]string
	postErr  error
	lookedUp []string
}

func newFakeSlack() *fakeSlack {
	return &fakeSlack{posted: make(map[string]int), users: map[string]string{"alice@example.com": "U123"}}
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.posted[channelID]++
	return channelID, "1700000000.000100", nil
}

func (f *fakeSlack) GetUserByEmailContext(_ context.Context, email string) (*slack.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookedUp = append(f.lookedUp, email)
	id, ok := f.users[email]
	if !ok {
		return nil, errors.New("users_not_found")
	}
	return &slack.User{ID: id}, nil
}

type webhookCall struct {
	url string
	msg *slack.WebhookMessage
}

func newTestSlackChannel(t *testing.T, cfg *config.Config, api SlackAPI) (*SlackChannel, *[]webhookCall) {
	t.Helper()
	deps, _ := newTestDeps(t, cfg, nil)
	deps.Slack = api
	c := NewSlackChannel(deps)
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	var calls []webhookCall
	c.postWebhook = func(_ context.Context, url string, msg *slack.WebhookMessage) error {
		calls = append(calls, webhookCall{url: url, msg: msg})
		return nil
	}
	return c, &calls
}

func TestSlackChannel_Accepts(t *testing.T) {
	c, _ := newTestSlackChannel(t, nil, newFakeSlack())
	assert.True(t, c.Accepts(newTestEvent("slack://#ops")))
	assert.True(t, c.Accepts(newTestEvent("https://hooks.slack.com/services/T0/B0/XXXX")))
	assert.False(t, c.Accepts(newTestEvent("ops@example.com")))

	ev := newTestEvent("jira")
	ev.Action.OwnerAbsentContact = []string{"slack://#fallback"}
	assert.True(t, c.Accepts(ev))
}

func TestSlackChannel_ChannelUserAndWebhook(t *testing.T) {
	api := newFakeSlack()
	c, calls := newTestSlackChannel(t, nil, api)

	ev := newTestEvent(
		"slack://#ops",
		"slack://alice@example.com",
		"https://hooks.slack.com/services/T0/B0/XXXX",
	)
	results := c.Deliver(context.Background(), ev)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.OK, r.Detail)
	}
	assert.Equal(t, "#ops", results[0].Target)
	assert.Equal(t, "alice@example.com", results[1].Target)
	assert.Equal(t, "https://hooks.slack.com/...", results[2].Target)

	assert.Equal(t, 1, api.posted["#ops"])
	assert.Equal(t, 1, api.posted["U123"])
	assert.Equal(t, []string{"alice@example.com"}, api.lookedUp)

	require.Len(t, *calls, 1)
	assert.Equal(t, "https://hooks.slack.com/services/T0/B0/XXXX", (*calls)[0].url)
	assert.Contains(t, (*calls)[0].msg.Text, "*ec2-untagged*")
	assert.Contains(t, (*calls)[0].msg.Text, "`i-1`")
}

func TestSlackChannel_OwnersAndTags(t *testing.T) {
	api := newFakeSlack()
	c, _ := newTestSlackChannel(t, &config.Config{ContactTags: []string{"OwnerContact"}}, api)

	ev := newTestEvent("slack://owners", "slack://tag/SlackChannel")
	ev.Action.OwnerAbsentContact = []string{"slack://#unowned"}
	ev.Resources = []types.Resource{
		{"InstanceId": "i-1", "Tags": []interface{}{
			map[string]interface{}{"Key": "OwnerContact", "Value": "alice@example.com"},
			map[string]interface{}{"Key": "SlackChannel", "Value": "#team-a"},
		}},
		{"InstanceId": "i-2"},
	}

	results := c.Deliver(context.Background(), ev)
	var targets []string
	for _, r := range results {
		assert.True(t, r.OK, r.Detail)
		targets = append(targets, r.Target)
	}
	assert.Equal(t, []string{"alice@example.com", "#unowned", "#team-a"}, targets)
	assert.Equal(t, 1, api.posted["U123"])
	assert.Equal(t, 1, api.posted["#team-a"])
	// i-2 has neither an owner nor a SlackChannel tag: both fall back to the
	// same owner-absent destination, which is posted once.
	assert.Equal(t, 1, api.posted["#unowned"])
}

func TestSlackChannel_ConfiguredWebhookWithChannel(t *testing.T) {
	c, calls := newTestSlackChannel(t,
		&config.Config{SlackWebhook: "https://hooks.slack.com/services/T0/B0/YYYY"}, newFakeSlack())

	results := c.Deliver(context.Background(), newTestEvent("slack://webhook/#alerts"))
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, "https://hooks.slack.com/...#alerts", results[0].Target)
	require.Len(t, *calls, 1)
	assert.Equal(t, "https://hooks.slack.com/services/T0/B0/YYYY", (*calls)[0].url)
	assert.Equal(t, "#alerts", (*calls)[0].msg.Channel)
}

func TestSlackChannel_Failures(t *testing.T) {
	api := newFakeSlack()
	c, _ := newTestSlackChannel(t, nil, api)

	results := c.Deliver(context.Background(), newTestEvent("slack://nobody@example.com", "slack://#ops"))
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Detail, "users_not_found")
	assert.Equal(t, "delivered_slack_error", results[0].Marker)
	assert.True(t, results[1].OK)
}

func TestSlackChannel_DuplicateIsSkipped(t *testing.T) {
	api := newFakeSlack()
	c, _ := newTestSlackChannel(t, nil, api)

	c.Deliver(context.Background(), newTestEvent("slack://#ops"))
	results := c.Deliver(context.Background(), newTestEvent("slack://#ops"))
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Equal(t, 1, api.posted["#ops"])
}

func TestSlackChannel_TokenRequired(t *testing.T) {
	deps, _ := newTestDeps(t, nil, nil)
	c := NewSlackChannel(deps)

	results := c.Deliver(context.Background(), newTestEvent("slack://#ops"))
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Detail, "slack_token")
}

func TestRedactWebhook(t *testing.T) {
	assert.Equal(t, "https://hooks.slack.com/...", redactWebhook("https://hooks.slack.com/services/T0/B0/XXXX"))
	assert.Equal(t, "<invalid-url>", redactWebhook("not a url"))
}
