package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potooio/potoo-mailer/internal/codec"
	"github.com/potooio/potoo-mailer/internal/types"
)

func TestLoadEvent(t *testing.T) {
	ev := LoadEvent(t, "testdata/ec2-untagged.yaml")
	assert.Equal(t, "ec2-untagged", ev.Policy.Name)
	assert.Equal(t, "123456789012", ev.AccountID)
	assert.Len(t, ev.Resources, 2)
	assert.True(t, ev.HasTarget(types.TargetResourceOwner))
	assert.True(t, ev.HasTarget(types.TargetSlack))
	assert.True(t, ev.HasTarget(types.TargetSNS))
}

func TestEncodeDecodes(t *testing.T) {
	ev := MakeEvent("p1", []string{"i-1", "i-2"}, "ops@example.com")
	got, err := codec.Decode(Encode(t, ev))
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Policy.Name)
	assert.Len(t, got.Resources, 2)
}
