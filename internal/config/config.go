// Package config loads the mailer configuration file.
//
// Files may be YAML, JSON or TOML; all three are normalized to JSON and decoded
// strictly so that misspelled keys fail loudly. Secrets and a few deployment
// knobs can be supplied through environment variables instead.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pelletier/go-toml/v2"
	"sigs.k8s.io/yaml"
)

// ErrInvalid is returned for configurations that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Queue backends.
const (
	QueueSQS    = "sqs"
	QueuePubSub = "pubsub"
)

// DedicatedAddress routes ServiceNow tickets for specific accounts (and
// optionally specific products) to a dedicated inbox.
type DedicatedAddress struct {
	Accounts []string `json:"accounts"`
	Products []string `json:"products,omitempty"`
	Email    string   `json:"email" validate:"required,email"`
}

// Config is the static configuration shared read-only by every worker.
type Config struct {
	QueueURL    string `json:"queue_url" env:"MAILER_QUEUE_URL" validate:"required"`
	QueueType   string `json:"queue_type,omitempty" validate:"omitempty,oneof=sqs pubsub"`
	EndpointURL string `json:"endpoint_url,omitempty" validate:"omitempty,url"`
	Region      string `json:"region,omitempty" env:"AWS_REGION"`
	BatchSize   int    `json:"batch_size,omitempty" env-default:"10" validate:"gte=0,lte=1000"`
	WaitSeconds int    `json:"wait_seconds,omitempty" env-default:"1" validate:"gte=0,lte=20"`
	Workers     int    `json:"max_num_processes,omitempty" env:"MAILER_WORKERS" env-default:"1" validate:"gte=0,lte=256"`
	Debug       bool   `json:"debug,omitempty"`

	// Email
	FromAddress    string `json:"from_address,omitempty" validate:"omitempty,email"`
	SESRegion      string `json:"ses_region,omitempty"`
	SMTPServer     string `json:"smtp_server,omitempty"`
	SMTPPort       int    `json:"smtp_port,omitempty" env-default:"25"`
	SMTPSSL        bool   `json:"smtp_ssl,omitempty"`
	SMTPUsername   string `json:"smtp_username,omitempty"`
	SMTPPassword   string `json:"smtp_password,omitempty" env:"MAILER_SMTP_PASSWORD"`
	SendGridAPIKey string `json:"sendgrid_api_key,omitempty" env:"SENDGRID_API_KEY"`

	// Recipient resolution
	LDAPURI              string              `json:"ldap_uri,omitempty"`
	LDAPBindDN           string              `json:"ldap_bind_dn,omitempty"`
	LDAPBindUser         string              `json:"ldap_bind_user,omitempty"`
	LDAPBindPassword     string              `json:"ldap_bind_password,omitempty" env:"LDAP_BIND_PASSWORD"`
	LDAPUIDTags          []string            `json:"ldap_uid_tags,omitempty"`
	LDAPUIDAttribute     string              `json:"ldap_uid_attribute,omitempty" env-default:"sAMAccountName"`
	LDAPEmailAttribute   string              `json:"ldap_email_attribute,omitempty" env-default:"mail"`
	LDAPManagerAttribute string              `json:"ldap_manager_attribute,omitempty" env-default:"manager"`
	LDAPCacheFile        string              `json:"ldap_cache_file,omitempty"`
	RedisURL             string              `json:"redis_url,omitempty" env:"MAILER_REDIS_URL"`
	OrgDomain            string              `json:"org_domain,omitempty"`
	EmailBaseURL         string              `json:"email_base_url,omitempty"`
	ContactTags          []string            `json:"contact_tags,omitempty"`
	AccountEmails        map[string][]string `json:"account_emails,omitempty"`

	// Dedup
	DedupTableName   string `json:"dedup_table_name,omitempty" env:"DEDUP_TABLE_NAME"`
	DedupRedisURL    string `json:"dedup_redis_url,omitempty" env:"DEDUP_REDIS_URL"`
	DedupPostgresDSN string `json:"dedup_postgres_dsn,omitempty" env:"DEDUP_POSTGRES_DSN"`
	DedupTTLHours    int    `json:"dedup_ttl_hours,omitempty" env-default:"2" validate:"gte=0"`

	// Ticketing
	JiraURL                string                 `json:"jira_url,omitempty" validate:"omitempty,url"`
	JiraBasicAuth          string                 `json:"jira_basic_auth,omitempty" env:"JIRA_BASIC_AUTH"`
	JiraProjectKey         string                 `json:"jira_project_key,omitempty" env-default:"custodian_jira_project"`
	JiraCustomFields       map[string]interface{} `json:"jira_custom_fields,omitempty"`
	ServiceNowAddress      string                 `json:"servicenow_address,omitempty" validate:"omitempty,email"`
	ServiceNowDedicated    []DedicatedAddress     `json:"servicenow_dedicated_addresses,omitempty" validate:"dive"`
	ServiceNowITServiceKey string                 `json:"servicenow_it_service_key,omitempty" env-default:"custodian_it_service"`
	ServiceNowURL          string                 `json:"servicenow_url,omitempty"`

	// Chat, topics, APM, log collector
	SlackToken          string `json:"slack_token,omitempty" env:"SLACK_TOKEN"`
	SlackWebhook        string `json:"slack_webhook,omitempty" validate:"omitempty,url"`
	NATSURL             string `json:"nats_url,omitempty"`
	DatadogAPIKey       string `json:"datadog_api_key,omitempty" env:"DATADOG_API_KEY"`
	DatadogSite         string `json:"datadog_site,omitempty" env-default:"datadoghq.com"`
	SplunkHECURL        string `json:"splunk_hec_url,omitempty" validate:"omitempty,url"`
	SplunkHECToken      string `json:"splunk_hec_token,omitempty" env:"SPLUNK_HEC_TOKEN"`
	SplunkHECSourcetype string `json:"splunk_hec_sourcetype,omitempty" env-default:"_json"`

	// Rendering, secrets, observability
	TemplatesFolders      []string `json:"templates_folders,omitempty"`
	KMSKeyID              string   `json:"kms_key_id,omitempty"`
	MetricsPushgatewayURL string   `json:"metrics_pushgateway_url,omitempty" validate:"omitempty,url"`
	OTLPEndpoint          string   `json:"otlp_endpoint,omitempty" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads, normalizes, overlays the environment, and validates path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes data; the file extension of path selects the format.
func Parse(path string, data []byte) (*Config, error) {
	j, format, err := toJSON(path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, format, err)
	}

	cfg := &Config{}
	dec := json.NewDecoder(bytes.NewReader(j))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalid, format, err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// toJSON normalizes YAML/TOML to JSON bytes.
func toJSON(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		j, err := yaml.YAMLToJSON(data)
		return j, "yaml", err
	case ".toml":
		var v map[string]interface{}
		if err := toml.Unmarshal(data, &v); err != nil {
			return nil, "toml", err
		}
		j, err := json.Marshal(v)
		return j, "toml", err
	default:
		return data, "json", nil
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints plus cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.QueueType == "" {
		c.QueueType = InferQueueType(c.QueueURL)
	}
	if c.JiraURL != "" && c.JiraBasicAuth == "" {
		return fmt.Errorf("%w: jira_url requires jira_basic_auth", ErrInvalid)
	}
	if c.SplunkHECURL != "" && c.SplunkHECToken == "" {
		return fmt.Errorf("%w: splunk_hec_url requires splunk_hec_token", ErrInvalid)
	}
	return nil
}

// InferQueueType maps a queue URL to its backend. Pub/Sub subscriptions are
// resource names ("projects/<p>/subscriptions/<s>"); anything else is SQS.
func InferQueueType(queueURL string) string {
	if strings.HasPrefix(queueURL, "projects/") && strings.Contains(queueURL, "/subscriptions/") {
		return QueuePubSub
	}
	return QueueSQS
}

// PoolSize returns the effective worker pool size.
func (c *Config) PoolSize() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}

// DedupEnabled reports whether any dedup backend is configured.
func (c *Config) DedupEnabled() bool {
	return c.DedupTableName != "" || c.DedupRedisURL != "" || c.DedupPostgresDSN != ""
}

// EmailTransport names the transport the email channel will use.
// SMTP and SendGrid take precedence over SES when configured.
func (c *Config) EmailTransport() string {
	switch {
	case c.SMTPServer != "":
		return "smtp"
	case c.SendGridAPIKey != "":
		return "sendgrid"
	default:
		return "ses"
	}
}
