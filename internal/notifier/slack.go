package notifier

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/potooio/potoo-mailer/internal/templates"
	"github.com/potooio/potoo-mailer/internal/types"
	"github.com/potooio/potoo-mailer/internal/util"
)

const slackBotTokenPrefix = "xoxb-"

// SlackAPI is the part of *slack.Client used here.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetUserByEmailContext(ctx context.Context, email string) (*slack.User, error)
}

// SlackChannel posts to Slack channels, users (by email) and incoming webhooks.
type SlackChannel struct {
	deps    Deps
	logger  *zap.Logger
	limiter *rate.Limiter

	// postWebhook is slack.PostWebhookContext, replaceable in tests.
	postWebhook func(ctx context.Context, url string, msg *slack.WebhookMessage) error

	mu  sync.Mutex
	api SlackAPI
}

// NewSlackChannel creates the slack channel. API calls are limited to one per
// second with a burst of three.
func NewSlackChannel(deps Deps) *SlackChannel {
	return &SlackChannel{
		deps:        deps,
		logger:      deps.Logger.Named("slack"),
		limiter:     rate.NewLimiter(rate.Limit(1), 3),
		postWebhook: slack.PostWebhookContext,
		api:         deps.Slack,
	}
}

// Name implements Channel.
func (c *SlackChannel) Name() string { return ChannelSlack }

func isSlackTarget(t types.Target) bool {
	return t.Kind == types.TargetSlack || t.Kind == types.TargetSlackWebhook
}

// Accepts implements Channel. Slack targets in owner_absent_contact count too.
func (c *SlackChannel) Accepts(ev *types.Event) bool {
	if ev.HasTarget(types.TargetSlack) || ev.HasTarget(types.TargetSlackWebhook) {
		return true
	}
	for _, t := range ev.OwnerAbsentTargets() {
		if isSlackTarget(t) {
			return true
		}
	}
	return false
}

func (c *SlackChannel) client(ctx context.Context) (SlackAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	token, err := c.deps.Secrets.GetUnless(ctx, "slack_token", func(s string) bool {
		return strings.HasPrefix(s, slackBotTokenPrefix)
	})
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("slack_token not configured")
	}
	c.api = slack.New(token)
	return c.api, nil
}

// destination is one Slack address and the resources to post about.
type destination struct {
	// webhook is set for incoming-webhook URLs; otherwise address is a
	// channel (#name or id) or a user email.
	webhook   bool
	address   string
	resources []types.Resource
	// channel overrides the webhook's default channel.
	channel string
}

type destinations struct {
	list  []*destination
	index map[string]*destination
}

func (d *destinations) add(webhook bool, address string, rs ...types.Resource) {
	if address == "" {
		return
	}
	if d.index == nil {
		d.index = make(map[string]*destination)
	}
	dst, ok := d.index[address]
	if !ok {
		dst = &destination{webhook: webhook, address: address}
		if webhook {
			if i := strings.Index(address, "#"); i >= 0 {
				dst.address, dst.channel = address[:i], address[i:]
			}
		}
		d.index[address] = dst
		d.list = append(d.list, dst)
	}
	dst.resources = append(dst.resources, rs...)
}

// addValue routes a resolved value (tag value or literal) to the right kind.
func (d *destinations) addValue(v string, rs ...types.Resource) {
	t := types.ParseTarget(v)
	switch t.Kind {
	case types.TargetSlackWebhook:
		d.add(true, t.Value, rs...)
	case types.TargetSlack:
		d.add(false, t.Value, rs...)
	default:
		d.add(false, strings.TrimSpace(v), rs...)
	}
}

// resolve expands slack targets into concrete destinations.
func (c *SlackChannel) resolve(ctx context.Context, ev *types.Event) *destinations {
	d := &destinations{}
	var absent []types.Target
	for _, t := range ev.OwnerAbsentTargets() {
		if isSlackTarget(t) {
			absent = append(absent, t)
		}
	}

	for _, t := range ev.Targets() {
		switch {
		case t.Kind == types.TargetSlackWebhook:
			d.add(true, t.Value, ev.Resources...)
		case t.Kind != types.TargetSlack:
			continue
		case t.Value == "owners":
			for _, r := range ev.Resources {
				owners := c.deps.Resolver.OwnerEmails(ctx, r)
				if len(owners) == 0 {
					for _, a := range absent {
						d.addValue(a.Raw, r)
					}
					continue
				}
				for _, o := range owners {
					d.add(false, o, r)
				}
			}
		case strings.HasPrefix(t.Value, "webhook/"):
			if c.deps.Config.SlackWebhook == "" {
				c.logger.Error("slack://webhook target without slack_webhook configured",
					zap.String("policy", ev.Policy.Name))
				continue
			}
			d.add(true, c.deps.Config.SlackWebhook+"#"+strings.TrimPrefix(t.Value, "webhook/"), ev.Resources...)
		case strings.HasPrefix(t.Value, "tag/"):
			key := strings.TrimPrefix(t.Value, "tag/")
			for _, r := range ev.Resources {
				if v := util.ResourceTags(r)[key]; v != "" {
					d.addValue(v, r)
				} else {
					for _, a := range absent {
						d.addValue(a.Raw, r)
					}
				}
			}
		default:
			d.add(false, t.Value, ev.Resources...)
		}
	}
	return d
}

// Deliver implements Channel.
func (c *SlackChannel) Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult {
	tmpl := orDefault(ev.Action.SlackTemplate, templates.DefaultSlack)
	var results []types.ChannelResult
	for _, dst := range c.resolve(ctx, ev).list {
		target := dst.address
		if dst.webhook {
			target = redactWebhook(dst.address) + dst.channel
		}
		key := dst.address + dst.channel
		text, err := c.deps.Renderer.RenderText(tmpl, templates.NewData(ev, dst.resources, []string{dst.address}))
		if err != nil {
			results = append(results, types.Failed(ChannelSlack, target, err))
			continue
		}
		if !c.deps.Gate.Allow(ctx, ev.PartitionKey(), types.DedupID(ChannelSlack, ev, key)) {
			results = append(results, types.Skipped(ChannelSlack, target, "duplicate"))
			continue
		}
		if err := c.post(ctx, dst, text); err != nil {
			results = append(results, types.Failed(ChannelSlack, target, err))
			continue
		}
		results = append(results, types.Delivered(ChannelSlack, target))
	}
	return results
}

func (c *SlackChannel) post(ctx context.Context, dst *destination, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if dst.webhook {
		return c.postWebhook(ctx, dst.address, &slack.WebhookMessage{Channel: dst.channel, Text: text})
	}

	api, err := c.client(ctx)
	if err != nil {
		return err
	}
	channel := dst.address
	if strings.Contains(channel, "@") {
		user, err := api.GetUserByEmailContext(ctx, channel)
		if err != nil {
			return fmt.Errorf("lookup slack user %s: %w", channel, err)
		}
		channel = user.ID
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if _, _, err := api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("post to %s: %w", dst.address, err)
	}
	return nil
}

// redactWebhook hides the secret path of an incoming-webhook URL.
func redactWebhook(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid-url>"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
