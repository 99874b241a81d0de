package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/dedup"
	"github.com/potooio/potoo-mailer/internal/recipients"
	"github.com/potooio/potoo-mailer/internal/secrets"
	"github.com/potooio/potoo-mailer/internal/templates"
	"github.com/potooio/potoo-mailer/internal/types"
)

// Channel names, in dispatch order.
const (
	ChannelJira       = "jira"
	ChannelServiceNow = "servicenow"
	ChannelEmail      = "email"
	ChannelTopic      = "topic"
	ChannelSlack      = "slack"
	ChannelDatadog    = "datadog"
	ChannelSplunkHEC  = "splunk-hec"
)

// Order is the fixed order channels run in for one event.
var Order = []string{
	ChannelJira, ChannelServiceNow, ChannelEmail, ChannelTopic,
	ChannelSlack, ChannelDatadog, ChannelSplunkHEC,
}

// Channel is one delivery mechanism.
type Channel interface {
	// Name returns the channel identifier used in results and markers.
	Name() string

	// Accepts reports whether the event's routing targets select this channel.
	Accepts(ev *types.Event) bool

	// Deliver attempts every notification unit for the event and reports one
	// result per unit. Deliver must not return early on a unit failure.
	Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult
}

// Deps carries the collaborators shared by channels.
type Deps struct {
	Config   *config.Config
	Resolver *recipients.Resolver
	Renderer *templates.Renderer
	Gate     *dedup.Gate
	Secrets  *secrets.Cache
	Logger   *zap.Logger

	// Transport sends email for the email and servicenow channels. Nil
	// disables both.
	Transport Transport
	// SNS and NATS back the topic channel; either may be nil.
	SNS  SNSAPI
	NATS NATSPublisher
	// Slack overrides the Slack API client (tests). Nil builds one from
	// slack_token on first use.
	Slack SlackAPI
}

// Build creates every channel in Order. A channel whose sink is not
// configured logs an error and skips events that target it.
func Build(deps Deps) []Channel {
	poster := newHTTPPoster(deps.Logger, defaultHTTPTimeout)
	return []Channel{
		NewJiraChannel(deps),
		NewServiceNowChannel(deps),
		NewEmailChannel(deps),
		NewTopicChannel(deps),
		NewSlackChannel(deps),
		NewDatadogChannel(deps, poster),
		NewSplunkHECChannel(deps, poster),
	}
}
