// Package email sends workflow notifications via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
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

func (s *Service) sender() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	msg := buildMultipart(to, s.sender(), subject, textBody, htmlBody)
	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

func buildMultipart(to []string, from, subject, textBody, htmlBody string) []byte {
	boundary := "boundary-contentflow"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// WorkItemData describes a work item assignment for the notification
// template.
type WorkItemData struct {
	AppName    string
	WorkItemID string
	Message    string
	Initiator  string
	Priority   string
	DueAt      *time.Time
	Documents  []string
}

// NotifyWorkItem tells assignees that a work item is waiting for them.
func (s *Service) NotifyWorkItem(to []string, data WorkItemData) error {
	if len(to) == 0 {
		return nil
	}
	if data.AppName == "" {
		data.AppName = "Contentflow"
	}

	subject := fmt.Sprintf("[%s] %s", data.AppName, workItemSubject(data))
	html, err := renderTemplate(workItemEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render work item template: %w", err)
	}
	text := fmt.Sprintf("%s assigned you a %s priority task: %s\r\nDocuments: %s",
		data.Initiator, strings.ToLower(data.Priority), data.Message, strings.Join(data.Documents, ", "))

	return s.SendHTMLEmail(to, subject, text, html)
}

func workItemSubject(data WorkItemData) string {
	if strings.TrimSpace(data.Message) == "" {
		return "New task assigned"
	}
	return "New task: " + data.Message
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const workItemEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}} task</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .meta { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.Initiator}} assigned you a task</h2>

    <p>{{.Message}}</p>

    <div class="meta">
        <p><strong>Priority:</strong> {{.Priority}}</p>
        {{if .DueAt}}<p><strong>Due:</strong> {{.DueAt.Format "2006-01-02 15:04 MST"}}</p>{{end}}
        <p><strong>Documents:</strong></p>
        <ul>
        {{range .Documents}}<li>{{.}}</li>
        {{end}}</ul>
    </div>

    <div class="footer">
        <p>Task {{.WorkItemID}}</p>
    </div>
</body>
</html>`
