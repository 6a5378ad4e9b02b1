package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/orchestrator"
	"github.com/ignite/convoflow/internal/pkg/logger"
)

const sendTimeout = 30 * time.Second

// SESAPI is the part of the SES v2 client the notifier uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier emails operators through AWS SES. Notify returns immediately;
// the email goes out on its own goroutine.
type SESNotifier struct {
	client SESAPI
	from   string
	to     []string
	wg     sync.WaitGroup
}

// NewSESNotifier wraps an SES client.
func NewSESNotifier(client SESAPI, from string, to []string) *SESNotifier {
	return &SESNotifier{client: client, from: from, to: to}
}

// NewSESNotifierFromConfig loads AWS config, with static credentials when
// both keys are set.
func NewSESNotifierFromConfig(ctx context.Context, cfg config.NotifyConfig) (*SESNotifier, error) {
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("notify: ses needs from and to addresses")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.SESRegion)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESNotifier(sesv2.NewFromConfig(awsCfg), cfg.From, cfg.To), nil
}

func (s *SESNotifier) Notify(_ context.Context, level orchestrator.NotifyLevel, message string) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: s.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject(level, message)), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(message), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("level"), Value: aws.String(string(level))},
		},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		out, err := s.client.SendEmail(ctx, input)
		if err != nil {
			logger.Error("ses notification failed", "level", string(level), "error", err.Error())
			return
		}
		logger.Info("ses notification sent", "level", string(level), "message_id", aws.ToString(out.MessageId))
	}()
}

// Wait blocks until in-flight emails finish.
func (s *SESNotifier) Wait() { s.wg.Wait() }

func subject(level orchestrator.NotifyLevel, message string) string {
	line := message
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if r := []rune(line); len(r) > 80 {
		line = string(r[:80]) + "…"
	}
	return fmt.Sprintf("[convoflow %s] %s", strings.ToUpper(string(level)), line)
}
