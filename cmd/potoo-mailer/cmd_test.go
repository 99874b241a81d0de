package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potooio/potoo-mailer/internal/codec"
	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/queue"
)

const sampleEvent = "../../internal/testutil/testdata/ec2-untagged.yaml"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailer.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// ---------------------------------------------------------------------------
// command constructors
// ---------------------------------------------------------------------------

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "potoo-mailer", cmd.Use)

	cfgFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfgFlag)
	assert.Equal(t, "c", cfgFlag.Shorthand)
	assert.Equal(t, "mailer.yml", cfgFlag.DefValue)

	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "validate")
	assert.Contains(t, names, "send")
}

func TestRunCmd(t *testing.T) {
	cmd := runCmd()
	assert.Equal(t, "run", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotNil(t, cmd.RunE)

	workers := cmd.Flags().Lookup("workers")
	require.NotNil(t, workers)
	assert.Equal(t, "w", workers.Shorthand)
	require.NotNil(t, cmd.Flags().Lookup("schedule"))
	require.NotNil(t, cmd.Flags().Lookup("debug"))
	addr := cmd.Flags().Lookup("metrics-bind-address")
	require.NotNil(t, addr)
	assert.Equal(t, ":8080", addr.DefValue)
}

func TestSendCmd(t *testing.T) {
	cmd := sendCmd()
	assert.Equal(t, "send", cmd.Use)
	assert.NotNil(t, cmd.RunE)

	file := cmd.Flags().Lookup("file")
	require.NotNil(t, file)
	assert.Equal(t, "f", file.Shorthand)
	require.NotNil(t, cmd.Flags().Lookup("print"))
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

func TestValidate_PrintsSummary(t *testing.T) {
	path := writeConfig(t, `queue_url: https://sqs.us-east-1.amazonaws.com/123456789012/mailer
from_address: cloud-custodian@example.com
smtp_server: smtp.example.com
dedup_redis_url: redis://localhost:6379/0
splunk_hec_url: https://splunk.example.com:8088/services/collector
splunk_hec_token: token
`)
	out, err := execute(t, "validate", "-c", path)
	require.NoError(t, err)

	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "(sqs)")
	assert.Contains(t, out, "smtp")
	assert.Contains(t, out, "dedup:       redis")
	assert.Contains(t, out, "splunk-hec:  enabled")
	assert.Contains(t, out, "jira:        disabled")
}

func TestValidate_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "queue_url: projects/p/subscriptions/s\nno_such_key: 1\n")
	_, err := execute(t, "validate", "-c", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "-c", filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// send
// ---------------------------------------------------------------------------

func TestSend_PrintEncodesEvent(t *testing.T) {
	out, err := execute(t, "send", "-f", sampleEvent, "--print")
	require.NoError(t, err)

	ev, err := codec.Decode([]byte(strings.TrimSpace(out)))
	require.NoError(t, err)
	assert.Equal(t, "ec2-untagged", ev.Policy.Name)
}

func TestSend_RequiresPolicyName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account: dev\n"), 0600))

	_, err := encodeEventFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy.name")
}

func TestSend_RejectsPubSubQueue(t *testing.T) {
	path := writeConfig(t, "queue_url: projects/p/subscriptions/s\n")
	_, err := execute(t, "send", "-c", path, "-f", sampleEvent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqs queues only")
}

type fakeSender struct {
	in  *sqs.SendMessageInput
	err error
}

func (f *fakeSender) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSendBody(t *testing.T) {
	f := &fakeSender{}
	id, err := sendBody(context.Background(), f, "https://queue", []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)

	require.NotNil(t, f.in)
	assert.Equal(t, "https://queue", aws.ToString(f.in.QueueUrl))
	assert.Equal(t, "body", aws.ToString(f.in.MessageBody))
	assert.Equal(t, queue.DataMessageType, aws.ToString(f.in.MessageAttributes["mtype"].StringValue))
}

func TestSendBody_Error(t *testing.T) {
	f := &fakeSender{err: errors.New("throttled")}
	_, err := sendBody(context.Background(), f, "https://queue", []byte("body"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

// ---------------------------------------------------------------------------
// wiring helpers
// ---------------------------------------------------------------------------

func TestSecretValues(t *testing.T) {
	cfg := &config.Config{SlackToken: "xoxb-1", DatadogAPIKey: "dd"}
	values := secretValues(cfg)
	assert.Equal(t, "xoxb-1", values["slack_token"])
	assert.Equal(t, "dd", values["datadog_api_key"])
	assert.Empty(t, values["smtp_password"])
	assert.Len(t, values, 7)
}

func TestRouter(t *testing.T) {
	srv := httptest.NewServer(newRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	missing, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(-1))
}
