package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/types"
)

type publishedSNS struct {
	input  *sns.PublishInput
	region string
}

type fakeSNS struct {
	mu        sync.Mutex
	published []publishedSNS
	err       error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var o sns.Options
	for _, fn := range optFns {
		fn(&o)
	}
	f.published = append(f.published, publishedSNS{input: in, region: o.Region})
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

type fakeNATS struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

const testTopic = "arn:aws:sns:eu-west-1:123456789012:ops"

func TestTopicChannel_PublishesSNS(t *testing.T) {
	deps, _ := newTestDeps(t, nil, nil)
	client := &fakeSNS{}
	deps.SNS = client
	c := NewTopicChannel(deps)

	ev := newTestEvent(testTopic, "ops@example.com")
	require.True(t, c.Accepts(ev))

	results := c.Deliver(context.Background(), ev)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, "delivered_sns", results[0].Marker)
	assert.Equal(t, testTopic, results[0].MarkerValue())

	require.Len(t, client.published, 1)
	p := client.published[0]
	assert.Equal(t, "eu-west-1", p.region)
	assert.Equal(t, testTopic, aws.ToString(p.input.TopicArn))
	assert.Equal(t, "Cloud Custodian notification - ec2-untagged", aws.ToString(p.input.Subject))
	assert.Contains(t, aws.ToString(p.input.Message), "- i-1")
}

func TestTopicChannel_PublishesNATS(t *testing.T) {
	deps, _ := newTestDeps(t, nil, nil)
	nc := &fakeNATS{}
	deps.NATS = nc
	c := NewTopicChannel(deps)

	results := c.Deliver(context.Background(), newTestEvent("nats://custodian.alerts"))
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, "delivered_nats", results[0].Marker)

	require.Equal(t, []string{"custodian.alerts"}, nc.subjects)
	var msg topicMessage
	require.NoError(t, json.Unmarshal(nc.payloads[0], &msg))
	assert.Equal(t, "ec2-untagged", msg.Policy.Name)
	assert.Equal(t, "dev", msg.Account)
	assert.Len(t, msg.Resources, 2)
}

func TestTopicChannel_OwnerTopicsFromContactTags(t *testing.T) {
	deps, _ := newTestDeps(t, &config.Config{ContactTags: []string{"OwnerContact"}}, nil)
	client := &fakeSNS{}
	deps.SNS = client
	c := NewTopicChannel(deps)

	ev := newTestEvent("resource-owner")
	ev.Resources = []types.Resource{
		{"InstanceId": "i-1", "Tags": []interface{}{map[string]interface{}{"Key": "OwnerContact", "Value": testTopic}}},
		{"InstanceId": "i-2", "Tags": []interface{}{map[string]interface{}{"Key": "OwnerContact", "Value": "bob@example.com"}}},
	}
	require.True(t, c.Accepts(ev))

	results := c.Deliver(context.Background(), ev)
	require.Len(t, results, 1)
	require.Len(t, client.published, 1)
	msg := aws.ToString(client.published[0].input.Message)
	assert.Contains(t, msg, "i-1")
	assert.NotContains(t, msg, "i-2")
}

func TestTopicChannel_AcceptsOnlyTopics(t *testing.T) {
	deps, _ := newTestDeps(t, &config.Config{ContactTags: []string{"OwnerContact"}}, nil)
	c := NewTopicChannel(deps)
	assert.False(t, c.Accepts(newTestEvent("ops@example.com")))
	assert.False(t, c.Accepts(newTestEvent("resource-owner")))
}

func TestTopicChannel_DuplicateTargetsCollapse(t *testing.T) {
	deps, _ := newTestDeps(t, nil, nil)
	client := &fakeSNS{}
	deps.SNS = client
	c := NewTopicChannel(deps)

	results := c.Deliver(context.Background(), newTestEvent(testTopic, testTopic))
	assert.Len(t, results, 1)
	assert.Len(t, client.published, 1)
}

func TestTopicChannel_Failures(t *testing.T) {
	deps, _ := newTestDeps(t, nil, nil)
	deps.SNS = &fakeSNS{err: errors.New("throttled")}
	c := NewTopicChannel(deps)

	results := c.Deliver(context.Background(), newTestEvent(testTopic, "nats://alerts"))
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Detail, "throttled")
	assert.Equal(t, "delivered_topic_error", results[0].Marker)
	assert.False(t, results[1].OK)
	assert.Contains(t, results[1].Detail, "nats_url not configured")
}

func TestArnRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", arnRegion(testTopic))
	assert.Equal(t, "", arnRegion("arn:aws:sns"))
}

func TestSNSSubject(t *testing.T) {
	assert.Equal(t, "a b c", snsSubject("a\n b\t\tc "))
	long := snsSubject(strings.Repeat("x", 150))
	assert.Len(t, long, snsSubjectLimit)
	// A multi-byte rune straddling the limit is dropped rather than split.
	cut := snsSubject(strings.Repeat("x", 99) + "é")
	assert.Equal(t, strings.Repeat("x", 99), cut)
}
