package alert

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/facesystem/gateway/internal/mail"
)

var bodyTemplate = template.Must(template.New("alert").Parse(`{{.Title}}

{{.Message}}

Type:      {{.Type}}
Severity:  {{.Severity}}
Timestamp: {{.Timestamp}}
{{range .Fields}}
{{printf "%-16s" (print .Name ":")}} {{.Value}}{{end}}
`))

// EmailNotifier renders alerts as plain text and mails them to the configured
// recipients.
type EmailNotifier struct {
	sender     mail.Sender
	recipients []string
}

// NewEmailNotifier creates a notifier sending through sender.
func NewEmailNotifier(sender mail.Sender, recipients []string) *EmailNotifier {
	return &EmailNotifier{sender: sender, recipients: recipients}
}

// Render returns the email body for a.
func Render(a Alert) (string, error) {
	var b strings.Builder
	if err := bodyTemplate.Execute(&b, a); err != nil {
		return "", fmt.Errorf("render alert: %w", err)
	}
	return b.String(), nil
}

// Notify sends a as one email.
func (n *EmailNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := Render(a)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, mail.Message{
		To:      n.recipients,
		Subject: a.Subject,
		Body:    body,
	})
}
