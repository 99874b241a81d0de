package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/potooio/potoo-mailer/internal/codec"
	"github.com/potooio/potoo-mailer/internal/config"
	"github.com/potooio/potoo-mailer/internal/queue"
	"github.com/potooio/potoo-mailer/internal/types"
)

// sqsSender is the part of the SQS client used by send.
type sqsSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

func sendCmd() *cobra.Command {
	var (
		file      string
		printOnly bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Encode an event file and put it on the queue",
		Long: `Encode a YAML or JSON event the way the policy engine does and send it to
the configured SQS queue. Useful for testing templates and routing.

Examples:
  # Queue a test event
  potoo-mailer send -c mailer.yml -f event.yaml

  # Only print the encoded body
  potoo-mailer send -f event.yaml --print`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := encodeEventFile(file)
			if err != nil {
				return err
			}
			if printOnly {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.QueueType != config.QueueSQS {
				return fmt.Errorf("send supports sqs queues only, got %s", cfg.QueueType)
			}
			var awsOpts []func(*awsconfig.LoadOptions) error
			if cfg.Region != "" {
				awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Region))
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context(), awsOpts...)
			if err != nil {
				return fmt.Errorf("load aws config: %w", err)
			}
			client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.EndpointURL)
				}
			})
			id, err := sendBody(cmd.Context(), client, cfg.QueueURL, body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Event file (YAML or JSON)")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the encoded body instead of sending it")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func encodeEventFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ev := &types.Event{}
	if err := yaml.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if ev.Policy.Name == "" {
		return nil, fmt.Errorf("%s: policy.name is required", path)
	}
	return codec.Encode(ev)
}

func sendBody(ctx context.Context, client sqsSender, queueURL string, body []byte) (string, error) {
	out, err := client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"mtype": {DataType: aws.String("String"), StringValue: aws.String(queue.DataMessageType)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", queueURL, err)
	}
	return aws.ToString(out.MessageId), nil
}
