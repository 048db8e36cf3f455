package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Mailer delivers alert and schema-change emails. Delivery is at-least-once
// and best-effort; callers never let a send failure affect pipeline state.
type Mailer interface {
	SendThresholdAlert(ctx context.Context, to []string, event *ThresholdEvent) error
	SendSchemaChange(ctx context.Context, to []string, event *SchemaChangeEvent) error
}

// SMTPConfig holds the transport settings for the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type smtpMailer struct {
	cfg    SMTPConfig
	logger *zap.Logger

	thresholdTmpl *template.Template
	schemaTmpl    *template.Template
}

// NewSMTPMailer creates a Mailer over plain SMTP with optional auth.
func NewSMTPMailer(cfg SMTPConfig, logger *zap.Logger) Mailer {
	return &smtpMailer{
		cfg:           cfg,
		logger:        logger.Named("mailer"),
		thresholdTmpl: template.Must(template.New("threshold").Parse(thresholdEmailTemplate)),
		schemaTmpl:    template.Must(template.New("schema").Parse(schemaEmailTemplate)),
	}
}

var _ Mailer = (*smtpMailer)(nil)

func (m *smtpMailer) SendThresholdAlert(ctx context.Context, to []string, event *ThresholdEvent) error {
	subject := fmt.Sprintf("Alert: %d rule(s) triggered in %s", len(event.Violations), event.WorkspaceName)

	var body bytes.Buffer
	if err := m.thresholdTmpl.Execute(&body, event); err != nil {
		return fmt.Errorf("failed to render alert email: %w", err)
	}

	return m.send(ctx, to, subject, body.String())
}

func (m *smtpMailer) SendSchemaChange(ctx context.Context, to []string, event *SchemaChangeEvent) error {
	subject := fmt.Sprintf("Schema change detected in %s", event.WorkspaceName)

	var body bytes.Buffer
	if err := m.schemaTmpl.Execute(&body, event); err != nil {
		return fmt.Errorf("failed to render schema change email: %w", err)
	}

	return m.send(ctx, to, subject, body.String())
}

func (m *smtpMailer) send(ctx context.Context, to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	msg.WriteString("From: " + m.cfg.From + "\r\n")
	msg.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent",
		zap.Int("recipients", len(to)),
		zap.String("subject", subject))
	return nil
}

const thresholdEmailTemplate = `<html>
<body style="font-family: sans-serif; color: #1a1a1a;">
  <h2>Threshold alert for {{.WorkspaceName}}</h2>
  <p>The latest data refresh triggered {{len .Violations}} alert rule(s):</p>
  <table border="1" cellpadding="6" cellspacing="0" style="border-collapse: collapse;">
    <tr><th>Column</th><th>Metric</th><th>Condition</th><th>Threshold</th><th>Actual</th></tr>
    {{range .Violations}}
    <tr>
      <td>{{.Column}}</td>
      <td>{{.Metric}}</td>
      <td>{{.Condition}}</td>
      <td>{{printf "%.2f" .Threshold}}</td>
      <td>{{printf "%.2f" .Actual}}</td>
    </tr>
    {{end}}
  </table>
  <p style="color: #777; font-size: 12px;">Upload {{.UploadID}} at {{.UploadedAt.Format "2006-01-02 15:04:05 UTC"}}</p>
</body>
</html>`

const schemaEmailTemplate = `<html>
<body style="font-family: sans-serif; color: #1a1a1a;">
  <h2>Structure change in {{.WorkspaceName}}</h2>
  {{if .AddedColumns}}<p><strong>Added columns:</strong> {{range $i, $c := .AddedColumns}}{{if $i}}, {{end}}{{$c}}{{end}}</p>{{end}}
  {{if .RemovedColumns}}<p><strong>Removed columns:</strong> {{range $i, $c := .RemovedColumns}}{{if $i}}, {{end}}{{$c}}{{end}}</p>{{end}}
  {{if .RowCountChanged}}<p><strong>Row count:</strong> {{.RowCountBefore}} &rarr; {{.RowCountAfter}} ({{printf "%+.1f" .RowChangePct}}%)</p>{{end}}
  {{if .Narrative}}<p><em>{{.Narrative}}</em></p>{{end}}
</body>
</html>`
