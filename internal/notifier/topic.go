package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/templates"
	"github.com/potooio/potoo-mailer/internal/types"
	"github.com/potooio/potoo-mailer/internal/util"
)

// SNS subjects are limited to 100 printable characters.
const snsSubjectLimit = 100

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NATSPublisher is satisfied by *nats.Conn.
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

// topicMessage is the JSON document published on NATS subjects.
type topicMessage struct {
	Subject   string           `json:"subject"`
	Message   string           `json:"message"`
	Policy    types.Policy     `json:"policy"`
	Account   string           `json:"account"`
	AccountID string           `json:"account_id,omitempty"`
	Region    string           `json:"region"`
	Resources []types.Resource `json:"resources"`
}

// TopicChannel publishes to SNS topics and NATS subjects.
type TopicChannel struct {
	deps   Deps
	logger *zap.Logger
}

// NewTopicChannel creates the topic channel.
func NewTopicChannel(deps Deps) *TopicChannel {
	return &TopicChannel{deps: deps, logger: deps.Logger.Named("topic")}
}

// Name implements Channel.
func (c *TopicChannel) Name() string { return ChannelTopic }

// Accepts implements Channel.
func (c *TopicChannel) Accepts(ev *types.Event) bool {
	if ev.HasTarget(types.TargetSNS) || ev.HasTarget(types.TargetNATS) {
		return true
	}
	return ev.HasTarget(types.TargetResourceOwner) && len(c.ownerTopics(ev)) > 0
}

type topicUnit struct {
	kind      types.TargetKind
	name      string
	resources []types.Resource
}

// ownerTopics maps SNS ARNs found in contact_tags to the resources carrying them.
func (c *TopicChannel) ownerTopics(ev *types.Event) []topicUnit {
	var units []topicUnit
	index := make(map[string]int)
	for _, r := range ev.Resources {
		for _, v := range util.TagValues(r, c.deps.Config.ContactTags) {
			if !types.IsSNSARN(v) {
				continue
			}
			i, ok := index[v]
			if !ok {
				i = len(units)
				index[v] = i
				units = append(units, topicUnit{kind: types.TargetSNS, name: v})
			}
			units[i].resources = append(units[i].resources, r)
		}
	}
	return units
}

func (c *TopicChannel) units(ev *types.Event) []topicUnit {
	var units []topicUnit
	seen := make(map[string]bool)
	for _, t := range ev.TargetsOf(types.TargetSNS, types.TargetNATS) {
		if seen[string(t.Kind)+t.Value] {
			continue
		}
		seen[string(t.Kind)+t.Value] = true
		units = append(units, topicUnit{kind: t.Kind, name: t.Value, resources: ev.Resources})
	}
	if ev.HasTarget(types.TargetResourceOwner) {
		for _, u := range c.ownerTopics(ev) {
			if !seen[string(u.kind)+u.name] {
				units = append(units, u)
			}
		}
	}
	return units
}

// Deliver implements Channel.
func (c *TopicChannel) Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult {
	tmpl := orDefault(ev.Action.SNSTemplate, templates.DefaultText)
	var results []types.ChannelResult
	for _, u := range c.units(ev) {
		data := templates.NewData(ev, u.resources, []string{u.name})
		body, err := c.deps.Renderer.RenderText(tmpl, data)
		if err != nil {
			results = append(results, types.Failed(ChannelTopic, u.name, err))
			continue
		}
		subject, err := c.deps.Renderer.RenderString(orDefault(ev.Action.Subject, defaultSubject), data)
		if err != nil {
			results = append(results, types.Failed(ChannelTopic, u.name, err))
			continue
		}
		subject = snsSubject(subject)

		if !c.deps.Gate.Allow(ctx, ev.PartitionKey(), types.DedupID(string(u.kind), ev, u.name)) {
			results = append(results, types.Skipped(ChannelTopic, u.name, "duplicate"))
			continue
		}

		switch u.kind {
		case types.TargetSNS:
			err = c.publishSNS(ctx, u.name, subject, body)
		case types.TargetNATS:
			err = c.publishNATS(ev, u, subject, body)
		}
		if err != nil {
			results = append(results, types.Failed(ChannelTopic, u.name, err))
			continue
		}
		r := types.Delivered(ChannelTopic, u.name)
		r.Marker = "delivered_" + string(u.kind)
		results = append(results, r)
	}
	return results
}

func (c *TopicChannel) publishSNS(ctx context.Context, arn, subject, body string) error {
	if c.deps.SNS == nil {
		return fmt.Errorf("no SNS client configured")
	}
	var opts []func(*sns.Options)
	if region := arnRegion(arn); region != "" {
		opts = append(opts, func(o *sns.Options) { o.Region = region })
	}
	_, err := c.deps.SNS.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(arn),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	}, opts...)
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

func (c *TopicChannel) publishNATS(ev *types.Event, u topicUnit, subject, body string) error {
	if c.deps.NATS == nil {
		return fmt.Errorf("nats_url not configured")
	}
	payload, err := json.Marshal(topicMessage{
		Subject:   subject,
		Message:   body,
		Policy:    ev.Policy,
		Account:   ev.Account,
		AccountID: ev.AccountID,
		Region:    ev.Region,
		Resources: u.resources,
	})
	if err != nil {
		return err
	}
	if err := c.deps.NATS.Publish(u.name, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", u.name, err)
	}
	return nil
}

// arnRegion returns the region field of an ARN.
func arnRegion(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 {
		return ""
	}
	return parts[3]
}

// snsSubject flattens and truncates a subject to what SNS accepts.
func snsSubject(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > snsSubjectLimit {
		s = strings.ToValidUTF8(s[:snsSubjectLimit], "")
	}
	return s
}
