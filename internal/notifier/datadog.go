package notifier

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/types"
	"github.com/potooio/potoo-mailer/internal/util"
)

const defaultDatadogMetric = "custodian.notification"

type datadogPoint [2]float64

type datadogSeries struct {
	Metric string         `json:"metric"`
	Points []datadogPoint `json:"points"`
	Type   string         `json:"type"`
	Host   string         `json:"host,omitempty"`
	Tags   []string       `json:"tags"`
}

type datadogPayload struct {
	Series []datadogSeries `json:"series"`
}

// DatadogChannel submits one metric point per resource.
type DatadogChannel struct {
	deps     Deps
	poster   *httpPoster
	logger   *zap.Logger
	endpoint string
	now      func() time.Time
}

// NewDatadogChannel creates the datadog channel.
func NewDatadogChannel(deps Deps, poster *httpPoster) *DatadogChannel {
	return &DatadogChannel{
		deps:     deps,
		poster:   poster,
		logger:   deps.Logger.Named("datadog"),
		endpoint: seriesURL(deps.Config.DatadogSite),
		now:      time.Now,
	}
}

// Name implements Channel.
func (c *DatadogChannel) Name() string { return ChannelDatadog }

// Accepts implements Channel.
func (c *DatadogChannel) Accepts(ev *types.Event) bool {
	return ev.HasTarget(types.TargetDatadog)
}

func seriesURL(site string) string {
	if site == "" {
		site = "datadoghq.com"
	}
	return "https://api." + site + "/api/v1/series"
}

// Deliver implements Channel.
func (c *DatadogChannel) Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult {
	apiKey, err := c.deps.Secrets.Get(ctx, "datadog_api_key")
	if err != nil {
		return []types.ChannelResult{types.Failed(ChannelDatadog, "", err)}
	}
	if apiKey == "" {
		c.logger.Error("Datadog target without datadog_api_key configured",
			zap.String("policy", ev.Policy.Name))
		return []types.ChannelResult{types.Skipped(ChannelDatadog, "", "datadog_api_key not configured")}
	}

	var results []types.ChannelResult
	for _, t := range ev.TargetsOf(types.TargetDatadog) {
		metric := metricName(t)
		if len(ev.Resources) == 0 {
			results = append(results, types.Skipped(ChannelDatadog, metric, "no resources"))
			continue
		}
		payload := c.payload(ev, t)
		body, err := json.Marshal(payload)
		if err != nil {
			results = append(results, types.Failed(ChannelDatadog, metric, err))
			continue
		}
		if err := c.poster.Post(ctx, ChannelDatadog, c.endpoint, map[string]string{"DD-API-KEY": apiKey}, body); err != nil {
			results = append(results, types.Failed(ChannelDatadog, metric, err))
			continue
		}
		c.logger.Info("Submitted datadog metrics",
			zap.String("policy", ev.Policy.Name),
			zap.String("metric", metric),
			zap.Int("points", len(payload.Series)))
		r := types.Delivered(ChannelDatadog, metric)
		r.Value = len(payload.Series)
		results = append(results, r)
	}
	return results
}

func metricName(t types.Target) string {
	if m := t.Params.Get("metric_name"); m != "" {
		return m
	}
	return defaultDatadogMetric
}

// payload builds the series document for one datadog:// target.
func (c *DatadogChannel) payload(ev *types.Event, t types.Target) datadogPayload {
	metric := metricName(t)
	valueTag := t.Params.Get("metric_value_tag")

	ts := float64(c.now().Unix())
	if ev.SentAt > 0 {
		ts = float64(ev.SentAt)
	}
	tags := []string{
		"event:" + ev.Policy.Name,
		"account_id:" + ev.AccountID,
		"account:" + ev.Account,
		"region:" + ev.Region,
		"resource_type:" + ev.ResourceType(),
	}

	p := datadogPayload{}
	for _, r := range ev.Resources {
		p.Series = append(p.Series, datadogSeries{
			Metric: metric,
			Points: []datadogPoint{{ts, metricValue(r, valueTag)}},
			Type:   "gauge",
			Tags:   tags,
		})
	}
	return p
}

// metricValue reads the point value from a resource field or tag. Missing or
// non-numeric values count as 1.
func metricValue(r types.Resource, key string) float64 {
	if key == "" {
		return 1
	}
	if v, ok := util.SafeNestedFloat(r, strings.Split(key, ".")...); ok {
		return v
	}
	if v, ok := util.ToFloat(util.ResourceTags(r)[key]); ok {
		return v
	}
	return 1
}
