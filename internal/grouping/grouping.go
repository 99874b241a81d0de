// Package grouping partitions the resources of an event into named groups for
// channels that route per logical group (ticket queues) rather than per
// recipient.
package grouping

import (
	"fmt"

	"github.com/jmespath/go-jmespath"

	"github.com/potooio/potoo-mailer/internal/types"
	"github.com/potooio/potoo-mailer/internal/util"
)

// DefaultGroup collects resources for which the group expression yields nothing.
const DefaultGroup = "default"

// Group is one named partition, resources in event order.
type Group struct {
	Name      string
	Resources []types.Resource
}

// Expr is a compiled JMESPath expression evaluated against resources.
type Expr struct {
	source string
	jp     *jmespath.JMESPath
}

// Compile compiles a JMESPath expression.
func Compile(expr string) (*Expr, error) {
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, err)
	}
	return &Expr{source: expr, jp: jp}, nil
}

// String returns the expression source.
func (e *Expr) String() string { return e.source }

// Value evaluates the expression and renders the result as a string. Falsy
// results (null, "", false, 0, empty list or object) and evaluation errors
// yield "".
func (e *Expr) Value(r types.Resource) string {
	if e == nil {
		return ""
	}
	v, err := e.jp.Search(map[string]interface{}(r))
	if err != nil {
		return ""
	}
	switch x := v.(type) {
	case bool:
		if !x {
			return ""
		}
	case float64:
		if x == 0 {
			return ""
		}
	}
	return util.Stringify(v)
}

// Resources partitions resources by the value of expr. An empty expression
// puts everything in the default group. Groups keep first-seen order.
func Resources(resources []types.Resource, expr string) ([]Group, error) {
	if expr == "" {
		return []Group{{Name: DefaultGroup, Resources: resources}}, nil
	}
	e, err := Compile(expr)
	if err != nil {
		return nil, err
	}

	var groups []Group
	index := make(map[string]int)
	for _, r := range resources {
		name := e.Value(r)
		if name == "" {
			name = DefaultGroup
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, Group{Name: name})
		}
		groups[i].Resources = append(groups[i].Resources, r)
	}
	return groups, nil
}

// KeyFor returns the group expression for a channel: the channel block's
// resource_groupby, falling back to the action-wide one.
func KeyFor(action types.Action, channel string) string {
	switch channel {
	case "jira":
		if action.Jira != nil && action.Jira.ResourceGroupBy != "" {
			return action.Jira.ResourceGroupBy
		}
	case "servicenow":
		if action.ServiceNow != nil && action.ServiceNow.ResourceGroupBy != "" {
			return action.ServiceNow.ResourceGroupBy
		}
	}
	return action.ResourceGroupBy
}

// Route picks the routing value (project, IT service) for a group. The
// default group always uses the explicit policy value. Other groups use the
// first resource that yields a value, then fall back to explicit.
func Route(g Group, perResource *Expr, explicit string) string {
	if g.Name == DefaultGroup || perResource == nil {
		return explicit
	}
	for _, r := range g.Resources {
		if v := perResource.Value(r); v != "" {
			return v
		}
	}
	return explicit
}
