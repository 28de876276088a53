package action

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/nhle/mail-agent/internal/model"
)

// builtinTemplates are the reply templates available without any
// configuration. Config entries with the same name override them.
var builtinTemplates = map[string]string{
	"default": "Thank you for your email. I have received your message " +
		"and will respond as soon as possible.",
	"out_of_office": "I am currently out of the office and will respond " +
		"when I return. For urgent matters, please contact the team.",
	"support": "Thank you for contacting support. Your request regarding " +
		"{{.Subject}} has been received. We will respond within 24 hours.",
}

// TemplateData is the interpolation context available to reply
// templates.
type TemplateData struct {
	Subject   string
	From      string
	Date      time.Time
	Category  string
	Sentiment string
	Priority  string
}

// TemplateRegistry holds the parsed reply templates, keyed by name.
// Templates are loaded once at startup and immutable during a run.
type TemplateRegistry struct {
	templates map[string]*template.Template
}

// NewTemplateRegistry parses the built-in templates merged with the
// configured overrides. A template that fails to parse is a startup
// error, not a dispatch-time one.
func NewTemplateRegistry(overrides map[string]string) (*TemplateRegistry, error) {
	sources := make(map[string]string, len(builtinTemplates)+len(overrides))
	for name, text := range builtinTemplates {
		sources[name] = text
	}
	for name, text := range overrides {
		sources[name] = text
	}

	parsed := make(map[string]*template.Template, len(sources))
	for name, text := range sources {
		tmpl, err := template.New(name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing template %q: %w", name, err)
		}
		parsed[name] = tmpl
	}

	return &TemplateRegistry{templates: parsed}, nil
}

// Render interpolates the named template with message and analysis
// fields. An unregistered name yields ErrTemplateNotFound.
func (r *TemplateRegistry) Render(
	name string, msg model.Message, analysis model.Analysis,
) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %q: %w", name, ErrTemplateNotFound)
	}

	data := TemplateData{
		Subject:   msg.Subject,
		From:      msg.From,
		Date:      msg.Date,
		Category:  string(analysis.Category),
		Sentiment: string(analysis.Sentiment),
		Priority:  analysis.Priority.String(),
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", name, err)
	}

	return sb.String(), nil
}
