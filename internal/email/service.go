// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	EnableTLS bool
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-lexops"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// AssignmentNotificationData holds data for the new-assignment email.
type AssignmentNotificationData struct {
	AppName    string
	Recipient  string
	Title      string
	Priority   string
	DueDate    string
	ClientName string
}

// SendAssignmentNotification tells an assigned employee about a new matter.
func (s *Service) SendAssignmentNotification(to, recipientName, title, priority, dueDate, clientName string) error {
	data := AssignmentNotificationData{
		AppName:    "LexOps",
		Recipient:  recipientName,
		Title:      title,
		Priority:   priority,
		DueDate:    dueDate,
		ClientName: clientName,
	}

	subject := fmt.Sprintf("New assignment: %s", title)
	html, err := renderTemplate(assignmentEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render assignment template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const assignmentEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New assignment on {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .detail { margin: 4px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.Recipient}},</h2>

    <p>You have been assigned to a new matter:</p>

    <p class="detail"><strong>Title:</strong> {{.Title}}</p>
    <p class="detail"><strong>Priority:</strong> {{.Priority}}</p>
    <p class="detail"><strong>Due date:</strong> {{.DueDate}}</p>
    {{if .ClientName}}<p class="detail"><strong>Client:</strong> {{.ClientName}}</p>{{end}}

    <p>Open the dashboard to review the details and the initial review task.</p>

    <div class="footer">
        <p>You are receiving this because you were listed on the assignment in {{.AppName}}.</p>
    </div>
</body>
</html>`
