package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-agent/internal/model"
)

func TestBuiltinTemplates(t *testing.T) {
	r, err := NewTemplateRegistry(nil)
	require.NoError(t, err)

	msg := model.Message{
		From:    "bob@example.com",
		Subject: "billing question",
		Date:    time.Now(),
	}
	an := model.Analysis{
		Category:  model.CategorySupport,
		Sentiment: model.SentimentNeutral,
		Priority:  model.PriorityMedium,
	}

	body, err := r.Render("default", msg, an)
	require.NoError(t, err)
	assert.Contains(t, body, "Thank you for your email")

	body, err = r.Render("out_of_office", msg, an)
	require.NoError(t, err)
	assert.Contains(t, body, "out of the office")

	body, err = r.Render("support", msg, an)
	require.NoError(t, err)
	assert.Contains(t, body, "billing question")
}

func TestTemplateOverrides(t *testing.T) {
	r, err := NewTemplateRegistry(map[string]string{
		"default": "Custom ack for {{.From}} about {{.Subject}} ({{.Priority}}).",
		"escalation": "Escalating {{.Category}} mail from {{.From}}.",
	})
	require.NoError(t, err)

	msg := model.Message{From: "bob@example.com", Subject: "outage"}
	an := model.Analysis{Category: model.CategoryUrgent, Priority: model.PriorityCritical}

	body, err := r.Render("default", msg, an)
	require.NoError(t, err)
	assert.Equal(t, "Custom ack for bob@example.com about outage (critical).", body)

	body, err = r.Render("escalation", msg, an)
	require.NoError(t, err)
	assert.Equal(t, "Escalating urgent mail from bob@example.com.", body)
}

func TestTemplateParseErrorAtStartup(t *testing.T) {
	_, err := NewTemplateRegistry(map[string]string{
		"broken": "unterminated {{.Subject",
	})
	assert.Error(t, err)
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewTemplateRegistry(nil)
	require.NoError(t, err)

	_, err = r.Render("nope", model.Message{}, model.Analysis{})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}
