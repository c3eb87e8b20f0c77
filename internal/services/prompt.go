package services

import (
	"strings"

	"github.com/yungbote/answercache/internal/contextstore"
	types "github.com/yungbote/answercache/internal/domain"
	"github.com/yungbote/answercache/internal/provider"
)

// BuildPrompt lays out the model input: one system message with the caller's
// effective preferences, the history oldest first, then the question.
func BuildPrompt(prefs *contextstore.PreferenceSnapshot, history []*types.Message, query string) []provider.Message {
	out := make([]provider.Message, 0, len(history)+2)
	out = append(out, provider.Message{Role: types.RoleSystem, Content: systemPrompt(prefs)})
	for _, m := range history {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	out = append(out, provider.Message{Role: types.RoleUser, Content: strings.TrimSpace(query)})
	return out
}

func systemPrompt(prefs *contextstore.PreferenceSnapshot) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant.")
	if prefs == nil {
		return b.String()
	}
	if prefs.OrganizationName != "" {
		b.WriteString(" You are answering for members of ")
		b.WriteString(prefs.OrganizationName)
		b.WriteString(".")
	}
	lines := [][2]string{
		{"locale", prefs.Locale},
		{"timezone", prefs.Timezone},
		{"unit system", prefs.UnitSystem},
		{"date format", prefs.DateFormat},
		{"number format", prefs.NumberFormat},
		{"currency", prefs.Currency},
	}
	wrote := false
	for _, l := range lines {
		if l[1] == "" {
			continue
		}
		if !wrote {
			b.WriteString("\nFormat answers using these preferences:")
			wrote = true
		}
		b.WriteString("\n- ")
		b.WriteString(l[0])
		b.WriteString(": ")
		b.WriteString(l[1])
	}
	return b.String()
}
