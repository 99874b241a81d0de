package types

import (
	"net/url"
	"strings"
)

// TargetKind is the variant of a routing target descriptor.
type TargetKind string

const (
	TargetEmail         TargetKind = "email"
	TargetResourceOwner TargetKind = "resource-owner"
	TargetEventOwner    TargetKind = "event-owner"
	TargetAccountEmails TargetKind = "account-emails"
	TargetSNS           TargetKind = "sns"
	TargetNATS          TargetKind = "nats"
	TargetSlack         TargetKind = "slack"
	TargetSlackWebhook  TargetKind = "slack-webhook"
	TargetJira          TargetKind = "jira"
	TargetServiceNow    TargetKind = "servicenow"
	TargetDatadog       TargetKind = "datadog"
	TargetSplunkHEC     TargetKind = "splunk-hec"
	TargetUnknown       TargetKind = "unknown"
)

const (
	slackWebhookPrefix = "https://hooks.slack.com/"
	snsARNPrefix       = "arn:aws:sns:"
)

// Target is a parsed entry of action.to (or owner_absent_contact).
//
// Value holds the variant payload:
//   - email: the literal address list as written (may contain , ; : separators)
//   - sns: the topic ARN
//   - nats: the subject
//   - slack: everything after "slack://" (#channel, user@example.com, owners, tag/Key)
//   - slack-webhook: the webhook URL
//   - splunk-hec: the index name
//
// Params carries query parameters for datadog:// targets.
type Target struct {
	Kind   TargetKind
	Value  string
	Params url.Values
	Raw    string
}

// ParseTarget classifies a single descriptor.
func ParseTarget(raw string) Target {
	s := strings.TrimSpace(raw)
	t := Target{Raw: raw, Value: s}
	switch {
	case s == "":
		t.Kind = TargetUnknown
	case s == string(TargetResourceOwner):
		t.Kind = TargetResourceOwner
	case s == string(TargetEventOwner):
		t.Kind = TargetEventOwner
	case s == string(TargetAccountEmails):
		t.Kind = TargetAccountEmails
	case s == "jira":
		t.Kind = TargetJira
	case s == "servicenow":
		t.Kind = TargetServiceNow
	case strings.HasPrefix(s, snsARNPrefix):
		t.Kind = TargetSNS
	case strings.HasPrefix(s, "nats://"):
		t.Kind = TargetNATS
		t.Value = strings.TrimPrefix(s, "nats://")
	case strings.HasPrefix(s, slackWebhookPrefix):
		t.Kind = TargetSlackWebhook
	case strings.HasPrefix(s, "slack://"):
		t.Kind = TargetSlack
		t.Value = strings.TrimPrefix(s, "slack://")
	case strings.HasPrefix(s, "slack"):
		t.Kind = TargetSlack
		t.Value = strings.TrimPrefix(strings.TrimPrefix(s, "slack"), ":")
	case strings.HasPrefix(s, "datadog"):
		t.Kind = TargetDatadog
		if i := strings.Index(s, "?"); i >= 0 {
			t.Params, _ = url.ParseQuery(s[i+1:])
		}
		if t.Params == nil {
			t.Params = url.Values{}
		}
	case strings.HasPrefix(s, "splunkhec://"):
		t.Kind = TargetSplunkHEC
		t.Value = strings.TrimPrefix(s, "splunkhec://")
	case strings.Contains(s, "://"):
		t.Kind = TargetUnknown
	default:
		// Anything else is treated as a literal address (list). Validation
		// happens in the recipient resolver.
		t.Kind = TargetEmail
	}
	return t
}

// ParseTargets classifies every descriptor, preserving order.
func ParseTargets(raws []string) []Target {
	if len(raws) == 0 {
		return nil
	}
	out := make([]Target, 0, len(raws))
	for _, r := range raws {
		out = append(out, ParseTarget(r))
	}
	return out
}

// IsSNSARN reports whether s looks like an SNS topic ARN.
func IsSNSARN(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), snsARNPrefix)
}
