package conversation

import (
	"fmt"
	"strings"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

const persona = `You are a friendly wellness assistant. You offer general
lifestyle and wellness guidance in the user's language. You are not a doctor:
for anything that sounds like a medical condition, advise consulting a
healthcare professional. Keep answers short and practical.`

// buildSystemPrompt combines the persona, the patient profile, and the
// retrieved reference passages into one system message.
func buildSystemPrompt(p *domain.Patient, docs []domain.RetrievedDocument) string {
	var b strings.Builder
	b.WriteString(persona)

	b.WriteString("\n\nPatient profile:\n")
	if p.Title != "" {
		fmt.Fprintf(&b, "- %s\n", p.Title)
	}
	if p.Info != "" {
		fmt.Fprintf(&b, "- %s\n", p.Info)
	}
	if p.PreferredLanguage != "" {
		fmt.Fprintf(&b, "- Preferred language: %s\n", p.PreferredLanguage)
	}

	if len(docs) > 0 {
		b.WriteString("\nReference passages (use these to ground your advice; do not quote ids):\n")
		for i, d := range docs {
			fmt.Fprintf(&b, "%d. %s", i+1, d.Text)
			if d.Source != "" {
				fmt.Fprintf(&b, " (source: %s", d.Source)
				if d.Year > 0 {
					fmt.Fprintf(&b, ", %d", d.Year)
				}
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}
