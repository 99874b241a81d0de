package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/potooio/potoo-mailer/internal/config"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and show what it enables",
		Long: `Load and validate the configuration file without contacting any service.

Examples:
  potoo-mailer validate -c mailer.yml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
	return cmd
}

func printSummary(w io.Writer, cfg *config.Config) {
	onOff := func(b bool) string {
		if b {
			return "enabled"
		}
		return "disabled"
	}
	dedup := "disabled"
	switch {
	case cfg.DedupTableName != "":
		dedup = "dynamodb:" + cfg.DedupTableName
	case cfg.DedupRedisURL != "":
		dedup = "redis"
	case cfg.DedupPostgresDSN != "":
		dedup = "postgres"
	}

	fmt.Fprintf(w, "Configuration %s is valid\n", configPath)
	fmt.Fprintf(w, "  queue:       %s (%s)\n", cfg.QueueURL, cfg.QueueType)
	fmt.Fprintf(w, "  workers:     %d\n", cfg.PoolSize())
	fmt.Fprintf(w, "  email:       %s\n", cfg.EmailTransport())
	fmt.Fprintf(w, "  dedup:       %s\n", dedup)
	fmt.Fprintf(w, "  ldap:        %s\n", onOff(cfg.LDAPURI != ""))
	fmt.Fprintf(w, "  jira:        %s\n", onOff(cfg.JiraURL != ""))
	fmt.Fprintf(w, "  servicenow:  %s\n", onOff(cfg.ServiceNowAddress != "" || len(cfg.ServiceNowDedicated) > 0))
	fmt.Fprintf(w, "  slack:       %s\n", onOff(cfg.SlackToken != "" || cfg.SlackWebhook != ""))
	fmt.Fprintf(w, "  nats:        %s\n", onOff(cfg.NATSURL != ""))
	fmt.Fprintf(w, "  datadog:     %s\n", onOff(cfg.DatadogAPIKey != ""))
	fmt.Fprintf(w, "  splunk-hec:  %s\n", onOff(cfg.SplunkHECURL != ""))
	if len(cfg.TemplatesFolders) > 0 {
		fmt.Fprintf(w, "  templates:   %s\n", strings.Join(cfg.TemplatesFolders, ", "))
	}
}
