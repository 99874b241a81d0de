package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	jira "github.com/andygrunwald/go-jira"
	"github.com/trivago/tgo/tcontainer"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/grouping"
	"github.com/potooio/potoo-mailer/internal/templates"
	"github.com/potooio/potoo-mailer/internal/types"
)

const (
	defaultJiraPriority  = "Medium"
	defaultJiraIssueType = "Task"
)

// issueCreator is the part of the go-jira issue service used here.
type issueCreator interface {
	CreateWithContext(ctx context.Context, issue *jira.Issue) (*jira.Issue, *jira.Response, error)
}

// JiraChannel creates one Jira issue per resource group.
type JiraChannel struct {
	deps    Deps
	project *grouping.Expr
	logger  *zap.Logger

	mu     sync.Mutex
	issues issueCreator
}

// NewJiraChannel creates the jira channel. The client is built on first use
// so that credentials are decrypted only when a policy targets Jira. An
// invalid jira_project_key disables per-resource project routing.
func NewJiraChannel(deps Deps) *JiraChannel {
	c := &JiraChannel{deps: deps, logger: deps.Logger.Named("jira")}
	if key := deps.Config.JiraProjectKey; key != "" {
		expr, err := grouping.Compile(key)
		if err != nil {
			c.logger.Error("Invalid jira_project_key", zap.Error(err))
		}
		c.project = expr
	}
	return c
}

// Name implements Channel.
func (c *JiraChannel) Name() string { return ChannelJira }

// Accepts implements Channel.
func (c *JiraChannel) Accepts(ev *types.Event) bool {
	return ev.HasTarget(types.TargetJira)
}

func (c *JiraChannel) client(ctx context.Context) (issueCreator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.issues != nil {
		return c.issues, nil
	}
	auth, err := c.deps.Secrets.Get(ctx, "jira_basic_auth")
	if err != nil {
		return nil, err
	}
	user, token, ok := strings.Cut(auth, ":")
	if !ok {
		return nil, fmt.Errorf("jira_basic_auth must be user:token")
	}
	tp := jira.BasicAuthTransport{Username: user, Password: token}
	client, err := jira.NewClient(tp.Client(), c.deps.Config.JiraURL)
	if err != nil {
		return nil, fmt.Errorf("jira client: %w", err)
	}
	c.issues = client.Issue
	return c.issues, nil
}

// Deliver implements Channel.
func (c *JiraChannel) Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult {
	if c.deps.Config.JiraURL == "" {
		c.logger.Error("jira_url not found in mailer config")
		return []types.ChannelResult{types.Skipped(ChannelJira, "", "jira_url not configured")}
	}
	issues, err := c.client(ctx)
	if err != nil {
		return []types.ChannelResult{types.Failed(ChannelJira, "", fmt.Errorf("create jira client: %w", err))}
	}

	groups, err := grouping.Resources(ev.Resources, grouping.KeyFor(ev.Action, ChannelJira))
	if err != nil {
		return []types.ChannelResult{types.Failed(ChannelJira, "", err)}
	}

	action := ev.Action.Jira
	if action == nil {
		action = &types.JiraAction{}
	}
	subject, err := c.deps.Renderer.RenderString(orDefault(ev.Action.Subject, defaultSubject),
		templates.NewData(ev, ev.Resources, nil))
	if err != nil {
		return []types.ChannelResult{types.Failed(ChannelJira, "", err)}
	}
	tmpl := orDefault(ev.Action.JiraTemplate, templates.DefaultJira)

	var results []types.ChannelResult
	for _, g := range groups {
		project := grouping.Route(g, c.project, action.Project)
		if project == "" {
			c.logger.Info("Skipping group without jira project",
				zap.String("group", g.Name), zap.Int("resources", len(g.Resources)))
			results = append(results, types.Skipped(ChannelJira, g.Name, "jira project not found"))
			continue
		}

		data := templates.NewData(ev, g.Resources, nil)
		data.Group = templates.Group{Name: g.Name, Route: project}
		description, err := c.deps.Renderer.RenderText(tmpl, data)
		if err != nil {
			results = append(results, types.Failed(ChannelJira, project, err))
			continue
		}
		if !c.deps.Gate.Allow(ctx, ev.PartitionKey(), types.DedupID(ChannelJira, ev, project+"|"+g.Name)) {
			results = append(results, types.Skipped(ChannelJira, project, "duplicate"))
			continue
		}

		issue := &jira.Issue{Fields: &jira.IssueFields{
			Project:     jira.Project{Key: project},
			Type:        jira.IssueType{Name: orDefault(action.IssueType, defaultJiraIssueType)},
			Priority:    &jira.Priority{Name: orDefault(action.Priority, defaultJiraPriority)},
			Summary:     strings.TrimSpace(subject),
			Description: description,
			Unknowns:    c.customFields(),
		}}
		// On failure go-jira folds the response body into err.
		created, _, err := issues.CreateWithContext(ctx, issue)
		if err != nil {
			results = append(results, types.Failed(ChannelJira, project, err))
			continue
		}
		c.logger.Info("Created Jira issue",
			zap.String("key", created.Key),
			zap.String("project", project),
			zap.String("group", g.Name),
			zap.String("policy", ev.Policy.Name))
		r := types.Delivered(ChannelJira, project)
		r.Value = created.Key
		results = append(results, r)
	}
	return results
}

func (c *JiraChannel) customFields() tcontainer.MarshalMap {
	if len(c.deps.Config.JiraCustomFields) == 0 {
		return nil
	}
	m := make(tcontainer.MarshalMap, len(c.deps.Config.JiraCustomFields))
	for k, v := range c.deps.Config.JiraCustomFields {
		m[k] = v
	}
	return m
}
