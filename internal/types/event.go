package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// DefaultRunID is the dedup partition used when an event carries no execution_start.
const DefaultRunID RunID = "default"

// Resource is one evaluated cloud resource as emitted by the policy engine.
// Provider-specific fields are left opaque; common fields (Tags, labels)
// are read through the util helpers.
type Resource map[string]interface{}

// Policy identifies the rule that fired.
type Policy struct {
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Description string `json:"description,omitempty"`
	Comments    string `json:"comments,omitempty"`
}

// RunID correlates all events from one policy execution. The upstream engine
// emits it as a float timestamp; strings are accepted too.
type RunID string

// UnmarshalJSON accepts a JSON number or string.
func (r *RunID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RunID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("execution_start: %w", err)
	}
	*r = RunID(n.String())
	return nil
}

// JiraAction is the per-policy Jira routing block.
type JiraAction struct {
	Project         string `json:"project,omitempty"`
	Priority        string `json:"priority,omitempty"`
	IssueType       string `json:"issue_type,omitempty"`
	ResourceGroupBy string `json:"resource_groupby,omitempty"`
}

// ServiceNowAction is the per-policy ServiceNow routing block.
type ServiceNowAction struct {
	ITService       string `json:"it_service,omitempty"`
	ResourceGroupBy string `json:"resource_groupby,omitempty"`
}

// Action is the notify action that produced the event: routing targets plus
// per-channel options.
type Action struct {
	To                 []string `json:"to,omitempty"`
	CC                 []string `json:"cc,omitempty"`
	OwnerAbsentContact []string `json:"owner_absent_contact,omitempty"`

	Template           string `json:"template,omitempty"`
	Subject            string `json:"subject,omitempty"`
	From               string `json:"from,omitempty"`
	PriorityHeader     string `json:"priority_header,omitempty"`
	SlackTemplate      string `json:"slack_template,omitempty"`
	JiraTemplate       string `json:"jira_template,omitempty"`
	ServiceNowTemplate string `json:"servicenow_template,omitempty"`
	SNSTemplate        string `json:"sns_template,omitempty"`

	ResourceGroupBy            string `json:"resource_groupby,omitempty"`
	EmailLDAPUsernameManager   bool   `json:"email_ldap_username_manager,omitempty"`
	ResourceLDAPLookupUsername bool   `json:"resource_ldap_lookup_username,omitempty"`

	Jira       *JiraAction       `json:"jira,omitempty"`
	ServiceNow *ServiceNowAction `json:"servicenow,omitempty"`
}

// Event is one decoded queue message: the resources matched by a policy run
// and how to route notifications about them.
type Event struct {
	Policy         Policy                 `json:"policy"`
	Account        string                 `json:"account,omitempty"`
	AccountID      string                 `json:"account_id,omitempty"`
	Region         string                 `json:"region,omitempty"`
	Resources      []Resource             `json:"resources"`
	Action         Action                 `json:"action"`
	Event          map[string]interface{} `json:"event,omitempty"`
	ExecutionStart RunID                  `json:"execution_start,omitempty"`

	// Set by the queue consumer, not part of the upstream payload.
	MessageID string `json:"-"`
	SentAt    int64  `json:"-"`

	// Audit trail written by the dispatcher.
	Results   []ChannelResult        `json:"-"`
	Delivered map[string]interface{} `json:"-"`

	targetsOnce sync.Once
	targets     []Target
	absent      []Target
	mu          sync.Mutex
}

// PartitionKey returns the dedup partition for this event's policy run.
func (e *Event) PartitionKey() string {
	if e.ExecutionStart == "" {
		return string(DefaultRunID)
	}
	return string(e.ExecutionStart)
}

// Targets returns the parsed action.to descriptors. Parsing happens once.
func (e *Event) Targets() []Target {
	e.parseTargets()
	return e.targets
}

// OwnerAbsentTargets returns the parsed owner_absent_contact descriptors.
func (e *Event) OwnerAbsentTargets() []Target {
	e.parseTargets()
	return e.absent
}

func (e *Event) parseTargets() {
	e.targetsOnce.Do(func() {
		e.targets = ParseTargets(e.Action.To)
		e.absent = ParseTargets(e.Action.OwnerAbsentContact)
	})
}

// HasTarget reports whether any action.to descriptor has the given kind.
func (e *Event) HasTarget(kind TargetKind) bool {
	for _, t := range e.Targets() {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// TargetsOf returns the action.to descriptors of the given kind.
func (e *Event) TargetsOf(kinds ...TargetKind) []Target {
	var out []Target
	for _, t := range e.Targets() {
		for _, k := range kinds {
			if t.Kind == k {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Record appends a channel result and, for results carrying a marker,
// writes the audit annotation. Markers are write-once: the first value wins.
func (e *Event) Record(r ChannelResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Results = append(e.Results, r)
	if r.Marker == "" {
		return
	}
	if e.Delivered == nil {
		e.Delivered = make(map[string]interface{})
	}
	if _, exists := e.Delivered[r.Marker]; exists {
		return
	}
	e.Delivered[r.Marker] = r.MarkerValue()
}

// Failures returns the results of failed channel attempts.
func (e *Event) Failures() []ChannelResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ChannelResult
	for _, r := range e.Results {
		if !r.OK {
			out = append(out, r)
		}
	}
	return out
}

// ResourceType returns the policy resource type, e.g. "aws.ec2" or "ec2".
func (e *Event) ResourceType() string {
	return e.Policy.Resource
}

// String is used in log lines.
func (e *Event) String() string {
	return fmt.Sprintf("policy=%s account=%s region=%s resources=%d to=%s",
		e.Policy.Name, e.Account, e.Region, len(e.Resources), strings.Join(e.Action.To, ","))
}
