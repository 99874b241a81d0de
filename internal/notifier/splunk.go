package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/templates"
	"github.com/potooio/potoo-mailer/internal/types"
)

// hecEvent is one Splunk HTTP Event Collector event.
type hecEvent struct {
	Time       int64       `json:"time"`
	Host       string      `json:"host,omitempty"`
	Source     string      `json:"source"`
	Sourcetype string      `json:"sourcetype"`
	Index      string      `json:"index,omitempty"`
	Event      hecResource `json:"event"`
}

type hecResource struct {
	Policy       string         `json:"policy"`
	Account      string         `json:"account"`
	AccountID    string         `json:"account_id,omitempty"`
	Region       string         `json:"region"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Resource     types.Resource `json:"resource"`
}

// SplunkHECChannel sends one HEC event per resource.
type SplunkHECChannel struct {
	deps   Deps
	poster *httpPoster
	logger *zap.Logger
	now    func() time.Time
}

// NewSplunkHECChannel creates the splunk-hec channel.
func NewSplunkHECChannel(deps Deps, poster *httpPoster) *SplunkHECChannel {
	return &SplunkHECChannel{
		deps:   deps,
		poster: poster,
		logger: deps.Logger.Named("splunk-hec"),
		now:    time.Now,
	}
}

// Name implements Channel.
func (c *SplunkHECChannel) Name() string { return ChannelSplunkHEC }

// Accepts implements Channel.
func (c *SplunkHECChannel) Accepts(ev *types.Event) bool {
	return ev.HasTarget(types.TargetSplunkHEC)
}

// Deliver implements Channel.
func (c *SplunkHECChannel) Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult {
	if c.deps.Config.SplunkHECURL == "" {
		c.logger.Error("Splunk HEC target without splunk_hec_url configured",
			zap.String("policy", ev.Policy.Name))
		return []types.ChannelResult{types.Skipped(ChannelSplunkHEC, "", "splunk_hec_url not configured")}
	}
	token, err := c.deps.Secrets.Get(ctx, "splunk_hec_token")
	if err != nil {
		return []types.ChannelResult{types.Failed(ChannelSplunkHEC, "", err)}
	}
	headers := map[string]string{"Authorization": "Splunk " + token}

	var results []types.ChannelResult
	for _, t := range ev.TargetsOf(types.TargetSplunkHEC) {
		index := t.Value
		if len(ev.Resources) == 0 {
			results = append(results, types.Skipped(ChannelSplunkHEC, index, "no resources"))
			continue
		}
		body, err := c.payload(ev, index)
		if err != nil {
			results = append(results, types.Failed(ChannelSplunkHEC, index, err))
			continue
		}
		if err := c.poster.Post(ctx, ChannelSplunkHEC, c.deps.Config.SplunkHECURL, headers, body); err != nil {
			results = append(results, types.Failed(ChannelSplunkHEC, index, err))
			continue
		}
		c.logger.Info("Sent splunk HEC events",
			zap.String("policy", ev.Policy.Name),
			zap.String("index", index),
			zap.Int("events", len(ev.Resources)))
		results = append(results, types.Delivered(ChannelSplunkHEC, index))
	}
	return results
}

// payload renders the newline-delimited HEC batch for one index.
func (c *SplunkHECChannel) payload(ev *types.Event, index string) ([]byte, error) {
	ts := c.now().Unix()
	if ev.SentAt > 0 {
		ts = ev.SentAt
	}
	sourcetype := c.deps.Config.SplunkHECSourcetype
	if sourcetype == "" {
		sourcetype = "_json"
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range ev.Resources {
		e := hecEvent{
			Time:       ts,
			Source:     "potoo-mailer",
			Sourcetype: sourcetype,
			Index:      index,
			Event: hecResource{
				Policy:       ev.Policy.Name,
				Account:      ev.Account,
				AccountID:    ev.AccountID,
				Region:       ev.Region,
				ResourceType: ev.ResourceType(),
				ResourceID:   templates.ResourceID(r),
				Resource:     r,
			},
		}
		// Encode appends the newline separator.
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
