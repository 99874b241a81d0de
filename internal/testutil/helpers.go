// Package testutil provides shared test helpers for the mailer packages.
// Import this in test files to avoid duplicating fixture loading and event builders.
package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/potooio/potoo-mailer/internal/codec"
	"github.com/potooio/potoo-mailer/internal/types"
)

// LoadEvent reads a YAML (or JSON) event fixture.
// Fails the test immediately if the file can't be read or parsed.
func LoadEvent(t *testing.T, path string) *types.Event {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read fixture %s", path)
	ev := &types.Event{}
	require.NoError(t, yaml.Unmarshal(data, ev), "failed to parse fixture %s", path)
	return ev
}

// MakeEvent creates a test Event for an aws.ec2 policy with one resource per
// instance id. Use for building test data in queue, notifier, and cmd tests.
func MakeEvent(policy string, instanceIDs []string, to ...string) *types.Event {
	resources := make([]types.Resource, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		resources = append(resources, types.Resource{"InstanceId": id})
	}
	return &types.Event{
		Policy:         types.Policy{Name: policy, Resource: "aws.ec2"},
		Account:        "dev",
		AccountID:      "123456789012",
		Region:         "us-east-1",
		ExecutionStart: "run-1",
		Resources:      resources,
		Action:         types.Action{To: to},
	}
}

// Encode returns the queue body for ev.
func Encode(t *testing.T, ev *types.Event) []byte {
	t.Helper()
	body, err := codec.Encode(ev)
	require.NoError(t, err)
	return body
}
