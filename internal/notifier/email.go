package notifier

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/templates"
	"github.com/potooio/potoo-mailer/internal/types"
)

const defaultSubject = "Cloud Custodian notification - {{ .Policy.Name }}"

// EmailChannel sends one email per recipient group.
type EmailChannel struct {
	deps   Deps
	logger *zap.Logger
}

// NewEmailChannel creates the email channel.
func NewEmailChannel(deps Deps) *EmailChannel {
	return &EmailChannel{deps: deps, logger: deps.Logger.Named("email")}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return ChannelEmail }

// Accepts implements Channel. Any address-producing target selects email,
// including a literal owner_absent_contact.
func (c *EmailChannel) Accepts(ev *types.Event) bool {
	if len(ev.Action.CC) > 0 {
		return true
	}
	if len(ev.TargetsOf(types.TargetEmail, types.TargetResourceOwner,
		types.TargetEventOwner, types.TargetAccountEmails)) > 0 {
		return true
	}
	for _, t := range ev.OwnerAbsentTargets() {
		if t.Kind == types.TargetEmail {
			return true
		}
	}
	return false
}

// Deliver implements Channel.
func (c *EmailChannel) Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult {
	if c.deps.Transport == nil {
		c.logger.Error("No email transport configured")
		return []types.ChannelResult{types.Skipped(ChannelEmail, "", "no email transport configured")}
	}

	groups := c.deps.Resolver.Resolve(ctx, ev)
	results := make([]types.ChannelResult, 0, len(groups))
	for _, g := range groups {
		target := g.Recipients.String()
		tmpl := orDefault(ev.Action.Template, templates.DefaultEmail)
		msg, err := buildEmail(c.deps, ev, g.Resources, g.Recipients.Addresses(), tmpl, templates.Group{})
		if err != nil {
			results = append(results, types.Failed(ChannelEmail, target, err))
			continue
		}
		if !c.deps.Gate.Allow(ctx, ev.PartitionKey(), types.DedupID(ChannelEmail, ev, target)) {
			results = append(results, types.Skipped(ChannelEmail, target, "duplicate"))
			continue
		}
		if err := c.deps.Transport.Send(ctx, msg); err != nil {
			results = append(results, types.Failed(ChannelEmail, target, err))
			continue
		}
		c.logger.Info("Sent email",
			zap.String("account", ev.Account),
			zap.String("policy", ev.Policy.Name),
			zap.String("resourceType", ev.ResourceType()),
			zap.Int("resources", len(g.Resources)),
			zap.String("template", tmpl),
			zap.String("transport", c.deps.Transport.Name()),
			zap.String("to", target))
		results = append(results, types.Delivered(ChannelEmail, target))
	}
	return results
}

// buildEmail renders the body and subject for a set of resources.
func buildEmail(deps Deps, ev *types.Event, resources []types.Resource, to []string, tmpl string, group templates.Group) (*Message, error) {
	data := templates.NewData(ev, resources, to)
	data.Group = group
	body, err := deps.Renderer.Render(tmpl, data)
	if err != nil {
		return nil, err
	}
	subject, err := deps.Renderer.RenderString(orDefault(ev.Action.Subject, defaultSubject), data)
	if err != nil {
		return nil, err
	}
	from := ev.Action.From
	if from == "" {
		from = deps.Config.FromAddress
	}
	return &Message{
		From:     from,
		To:       to,
		Subject:  strings.TrimSpace(subject),
		Body:     body,
		HTML:     deps.Renderer.IsHTML(tmpl),
		Priority: ev.Action.PriorityHeader,
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
