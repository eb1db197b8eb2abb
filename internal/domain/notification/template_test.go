package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateEngine_RenderBuiltIn(t *testing.T) {
	e := NewTemplateEngine()
	summary, suggested, err := e.Render(ActionCreated, map[string]string{
		"title": "Checkup", "doctor": "Dr. Reyes", "date": "2025-03-10", "time": "09:00",
	})
	require.NoError(t, err)
	assert.Equal(t, `New appointment "Checkup" with Dr. Reyes on 2025-03-10 at 09:00.`, summary)
	assert.Equal(t, "Review the appointment details.", suggested)
}

func TestTemplateEngine_EveryActionHasTemplate(t *testing.T) {
	e := NewTemplateEngine()
	for _, a := range []Action{ActionCreated, ActionUpdated, ActionCancelled, ActionReminder} {
		summary, suggested, err := e.Render(a, nil)
		require.NoError(t, err, a)
		assert.NotEmpty(t, summary)
		assert.NotEmpty(t, suggested)
	}
}

func TestTemplateEngine_MissingKeysLeftInPlace(t *testing.T) {
	summary, _, err := NewTemplateEngine().Render(ActionReminder, map[string]string{"title": "Visit"})
	require.NoError(t, err)
	assert.Contains(t, summary, `"Visit"`)
	assert.Contains(t, summary, "{{date}}")
}

func TestTemplateEngine_Unknown(t *testing.T) {
	_, _, err := NewTemplateEngine().Render("archived", nil)
	assert.Error(t, err)
}

func TestTemplateEngine_RegisterOverrides(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(Template{Action: ActionCancelled, Summary: "{{title}} off", SuggestedAction: "none"})
	summary, suggested, err := e.Render(ActionCancelled, map[string]string{"title": "Scan"})
	require.NoError(t, err)
	assert.Equal(t, "Scan off", summary)
	assert.Equal(t, "none", suggested)
}
