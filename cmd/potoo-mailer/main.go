// potoo-mailer delivers policy-engine notifications from a cloud queue to
// email, ticketing, chat, topics and observability sinks.
//
// Usage:
//
//	potoo-mailer run --config mailer.yml
//	potoo-mailer run --config mailer.yml --schedule "*/5 * * * *"
//	potoo-mailer validate --config mailer.yml
//	potoo-mailer send --config mailer.yml -f event.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "potoo-mailer",
		Short: "Deliver policy notifications from a queue",
		Long: `potoo-mailer drains the notification queue written by the policy engine
and delivers each message to the channels its notify action targets:
email (SMTP, SendGrid, SES), Jira, ServiceNow, SNS, NATS, Slack, Datadog
and Splunk HEC.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mailer.yml", "Path to the mailer configuration file (YAML, JSON or TOML)")

	// Add subcommands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(sendCmd())

	return rootCmd
}
