package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"engageflow/logger"
)

type SESAPI interface {
	SendTemplatedEmail(ctx context.Context, params *ses.SendTemplatedEmailInput, optFns ...func(*ses.Options)) (*ses.SendTemplatedEmailOutput, error)
}

// SESMailer sends SES stored templates named "<prefix>-<key>".
type SESMailer struct {
	client SESAPI
	from   string
	prefix string
}

func NewSESMailer(client SESAPI, from, prefix string) *SESMailer {
	return &SESMailer{client: client, from: from, prefix: prefix}
}

func (m *SESMailer) templateName(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + "-" + key
}

func (m *SESMailer) SendTemplate(ctx context.Context, address, template string, vars map[string]string) error {
	if vars == nil {
		vars = map[string]string{}
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("notify: marshal template data: %w", err)
	}
	_, err = m.client.SendTemplatedEmail(ctx, &ses.SendTemplatedEmailInput{
		Source:       aws.String(m.from),
		Destination:  &types.Destination{ToAddresses: []string{address}},
		Template:     aws.String(m.templateName(template)),
		TemplateData: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("notify: send %s: %w", m.templateName(template), err)
	}
	return nil
}

// LogMailer stands in for SES when email delivery is disabled.
type LogMailer struct {
	log logger.Logger
}

func NewLogMailer(log logger.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendTemplate(_ context.Context, address, template string, vars map[string]string) error {
	m.log.Debug("email delivery disabled", map[string]interface{}{
		"to":       address,
		"template": template,
		"vars":     vars,
	})
	return nil
}
