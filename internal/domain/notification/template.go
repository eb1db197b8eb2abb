package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template renders the summary and suggested action of one action type.
type Template struct {
	Action          Action
	Summary         string
	SuggestedAction string
}

// TemplateEngine holds one template per action and renders it with {{key}}
// replacement.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Action]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[Action]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			Action:          ActionCreated,
			Summary:         "New appointment \"{{title}}\" with {{doctor}} on {{date}} at {{time}}.",
			SuggestedAction: "Review the appointment details.",
		},
		{
			Action:          ActionUpdated,
			Summary:         "Appointment \"{{title}}\" on {{date}} at {{time}} is now {{status}}.",
			SuggestedAction: "Check the updated appointment.",
		},
		{
			Action:          ActionCancelled,
			Summary:         "Appointment \"{{title}}\" on {{date}} at {{time}} was cancelled. {{reason}}",
			SuggestedAction: "Book a new time if needed.",
		},
		{
			Action:          ActionReminder,
			Summary:         "Reminder: \"{{title}}\" with {{doctor}} on {{date}} at {{time}}.",
			SuggestedAction: "Confirm your attendance.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Action] = &t
	}
}

// RegisterTemplate adds or replaces the template for t.Action.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Action] = &t
}

// Render performs {{key}} replacement on the action's template. Keys present
// in the template but absent from data are left as-is.
func (e *TemplateEngine) Render(action Action, data map[string]string) (summary, suggested string, err error) {
	e.mu.RLock()
	t, ok := e.templates[action]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("no template for action %q", action)
	}

	summary = t.Summary
	suggested = t.SuggestedAction
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		summary = strings.ReplaceAll(summary, placeholder, v)
		suggested = strings.ReplaceAll(suggested, placeholder, v)
	}
	return strings.TrimSpace(summary), suggested, nil
}
