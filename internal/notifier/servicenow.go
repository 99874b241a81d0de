package notifier

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/grouping"
	"github.com/potooio/potoo-mailer/internal/templates"
	"github.com/potooio/potoo-mailer/internal/types"
)

// ServiceNowChannel opens tickets by emailing a ServiceNow inbound address,
// one email per resource group.
type ServiceNowChannel struct {
	deps      Deps
	itService *grouping.Expr
	logger    *zap.Logger
}

// NewServiceNowChannel creates the servicenow channel. An invalid
// servicenow_it_service_key disables per-resource IT service lookup.
func NewServiceNowChannel(deps Deps) *ServiceNowChannel {
	c := &ServiceNowChannel{deps: deps, logger: deps.Logger.Named("servicenow")}
	if key := deps.Config.ServiceNowITServiceKey; key != "" {
		expr, err := grouping.Compile(key)
		if err != nil {
			c.logger.Error("Invalid servicenow_it_service_key", zap.Error(err))
		}
		c.itService = expr
	}
	return c
}

// Name implements Channel.
func (c *ServiceNowChannel) Name() string { return ChannelServiceNow }

// Accepts implements Channel.
func (c *ServiceNowChannel) Accepts(ev *types.Event) bool {
	return ev.HasTarget(types.TargetServiceNow)
}

// address returns the dedicated address for (account, product) or the
// default servicenow_address.
func (c *ServiceNowChannel) address(accountID, product string) string {
	for _, da := range c.deps.Config.ServiceNowDedicated {
		if !slices.Contains(da.Accounts, accountID) {
			continue
		}
		if len(da.Products) == 0 || slices.Contains(da.Products, product) {
			if da.Email != "" {
				return da.Email
			}
			break
		}
	}
	return c.deps.Config.ServiceNowAddress
}

// Deliver implements Channel.
func (c *ServiceNowChannel) Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult {
	cfg := c.deps.Config
	if cfg.ServiceNowAddress == "" && len(cfg.ServiceNowDedicated) == 0 {
		c.logger.Error("servicenow_address not found in mailer config")
		return []types.ChannelResult{types.Skipped(ChannelServiceNow, "", "servicenow_address not configured")}
	}
	if c.deps.Transport == nil {
		c.logger.Error("No email transport configured")
		return []types.ChannelResult{types.Skipped(ChannelServiceNow, "", "no email transport configured")}
	}

	groups, err := grouping.Resources(ev.Resources, grouping.KeyFor(ev.Action, ChannelServiceNow))
	if err != nil {
		return []types.ChannelResult{types.Failed(ChannelServiceNow, "", err)}
	}

	explicit := ""
	if ev.Action.ServiceNow != nil {
		explicit = ev.Action.ServiceNow.ITService
	}
	tmpl := orDefault(ev.Action.ServiceNowTemplate, templates.DefaultServiceNow)

	var results []types.ChannelResult
	for _, g := range groups {
		itService := grouping.Route(g, c.itService, explicit)
		if itService == "" {
			c.logger.Info("Skipping group without it_service",
				zap.String("group", g.Name), zap.Int("resources", len(g.Resources)))
			results = append(results, types.Skipped(ChannelServiceNow, g.Name, "it_service not found"))
			continue
		}
		addr := c.address(ev.AccountID, g.Name)
		if addr == "" {
			results = append(results, types.Skipped(ChannelServiceNow, g.Name, "no servicenow address for account"))
			continue
		}

		msg, err := buildEmail(c.deps, ev, g.Resources, []string{addr}, tmpl,
			templates.Group{Name: g.Name, Route: itService})
		if err != nil {
			results = append(results, types.Failed(ChannelServiceNow, g.Name, err))
			continue
		}
		if !c.deps.Gate.Allow(ctx, ev.PartitionKey(), types.DedupID(ChannelServiceNow, ev, addr+"|"+g.Name)) {
			results = append(results, types.Skipped(ChannelServiceNow, g.Name, "duplicate"))
			continue
		}
		if err := c.deps.Transport.Send(ctx, msg); err != nil {
			results = append(results, types.Failed(ChannelServiceNow, g.Name, err))
			continue
		}

		r := types.Delivered(ChannelServiceNow, g.Name)
		r.Value = addr
		results = append(results, r)
		if cfg.ServiceNowURL != "" {
			results = append(results, types.ChannelResult{
				Channel: ChannelServiceNow,
				Target:  g.Name,
				OK:      true,
				Marker:  "delivered_email_url",
				Value:   cfg.ServiceNowURL,
			})
		}
	}
	return results
}
