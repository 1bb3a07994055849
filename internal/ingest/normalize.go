package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

// rawRecord mirrors the loosely typed source files. Field names vary between
// exports (Spanish and English variants), and year sometimes arrives as a
// string.
type rawRecord struct {
	ID            string          `json:"id"`
	Language      string          `json:"language"`
	Idioma        string          `json:"idioma"`
	Domain        string          `json:"domain"`
	Dominio       string          `json:"dominio"`
	Topic         string          `json:"topic"`
	Tema          string          `json:"tema"`
	Text          string          `json:"text"`
	Recomendacion string          `json:"recomendacion"`
	Sugerencia    string          `json:"sugerencia"`
	Suggestion    string          `json:"suggestion"`
	Content       string          `json:"content"`
	Source        string          `json:"source"`
	Fuente        string          `json:"fuente"`
	Year          json.RawMessage `json:"year"`
	Anio          json.RawMessage `json:"anio"`
	SafetyTags    []string        `json:"safety_tags"`
}

// Normalize converts one raw NDJSON line into a canonical Document.
// Missing text is an error; everything else degrades to empty fields.
func Normalize(line []byte) (domain.Document, error) {
	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return domain.Document{}, fmt.Errorf("parse record: %w", err)
	}

	text := firstNonEmpty(raw.Text, raw.Recomendacion, raw.Sugerencia, raw.Suggestion, raw.Content)
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Document{}, fmt.Errorf("record has no text field")
	}

	doc := domain.Document{
		ID:         raw.ID,
		Language:   strings.ToLower(firstNonEmpty(raw.Language, raw.Idioma)),
		Domain:     firstNonEmpty(raw.Domain, raw.Dominio),
		Topic:      firstNonEmpty(raw.Topic, raw.Tema),
		Text:       text,
		Source:     firstNonEmpty(raw.Source, raw.Fuente),
		Year:       parseYear(raw.Year, raw.Anio),
		SafetyTags: raw.SafetyTags,
	}
	if doc.ID == "" {
		doc.ID = DeterministicID(doc.Language, doc.Domain, doc.Topic, doc.Text)
	}
	return doc, nil
}

// DeterministicID derives a stable id so re-running ingest over the same file
// updates rows instead of duplicating them.
func DeterministicID(language, domain, topic, text string) string {
	h := sha1.Sum([]byte(language + "|" + domain + "|" + topic + "|" + text))
	return hex.EncodeToString(h[:])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseYear accepts a JSON number or a quoted string ("2023").
func parseYear(candidates ...json.RawMessage) int {
	for _, raw := range candidates {
		if len(raw) == 0 {
			continue
		}
		s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
		if s == "" || s == "null" {
			continue
		}
		if y, err := strconv.Atoi(s); err == nil {
			return y
		}
	}
	return 0
}
