package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// templateData is the struct passed into the report email template.
type templateData struct {
	ServiceName   string
	RecipientName string
	Title         string
	ReportID      string
	GeneratedAt   string
}

// Composer renders delivery emails from the embedded HTML template.
type Composer struct {
	tmpl        *template.Template
	serviceName string
}

// NewComposer parses the embedded template and returns a Composer.
func NewComposer(serviceName string) (*Composer, error) {
	content, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		return nil, fmt.Errorf("NewComposer: read report.html: %w", err)
	}
	tmpl, err := template.New("report").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("NewComposer: parse report.html: %w", err)
	}
	if serviceName == "" {
		serviceName = "Reportflow"
	}
	return &Composer{tmpl: tmpl, serviceName: serviceName}, nil
}

// Subject builds the subject line for a report delivery email.
func (c *Composer) Subject(title string) string {
	return "Report: " + title
}

// recipientName derives a display name from the first recipient's local
// part. The addresses are the only identity the pipeline has.
func recipientName(recipients []string) string {
	if len(recipients) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(recipients[0], "@")
	return name
}

// Compose renders the full outgoing message for one delivery: subject, HTML
// body with a plain-text alternative, and the generated document attached
// as "{title}.pdf".
func (c *Composer) Compose(reportID, title string, recipients []string, document []byte, generatedAt time.Time) (*Message, error) {
	var buf bytes.Buffer
	err := c.tmpl.Execute(&buf, templateData{
		ServiceName:   c.serviceName,
		RecipientName: recipientName(recipients),
		Title:         title,
		ReportID:      reportID,
		GeneratedAt:   generatedAt.UTC().Format("Jan 2, 2006 15:04 MST"),
	})
	if err != nil {
		return nil, fmt.Errorf("Compose: render body: %w", err)
	}

	return &Message{
		To:       recipients,
		Subject:  c.Subject(title),
		HTMLBody: buf.String(),
		TextBody: "Attached is your scheduled report: " + title,
		Attachments: []Attachment{{
			Filename:    title + ".pdf",
			ContentType: "application/pdf",
			Body:        document,
		}},
	}, nil
}
