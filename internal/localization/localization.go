package localization

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed translations/*.yaml
var translationsFS embed.FS

const DefaultLanguage = "fr"

var languages = []string{"fr", "en"}

type Service struct {
	translations map[string]map[string]interface{}
	fallback     string
}

// NewService loads the embedded translations. Unknown languages fall back to
// fallback, or to French when fallback is empty.
func NewService(fallback string) (*Service, error) {
	if fallback == "" {
		fallback = DefaultLanguage
	}

	s := &Service{
		translations: make(map[string]map[string]interface{}),
		fallback:     fallback,
	}

	for _, lang := range languages {
		data, err := translationsFS.ReadFile(fmt.Sprintf("translations/%s.yaml", lang))
		if err != nil {
			return nil, fmt.Errorf("read %s translations: %w", lang, err)
		}

		var translations map[string]interface{}
		if err := yaml.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("parse %s translations: %w", lang, err)
		}

		s.translations[lang] = translations
	}

	if _, ok := s.translations[fallback]; !ok {
		return nil, fmt.Errorf("no translations for fallback language %q", fallback)
	}

	return s, nil
}

// Get retrieves a translation by key for the given language
// Key format: "section.subsection.key" or "section.key"
// Params can contain placeholders like {{name}}, {{amount}}, etc.
func (s *Service) Get(lang, key string, params map[string]interface{}) string {
	langTranslations, ok := s.translations[lang]
	if !ok {
		langTranslations = s.translations[s.fallback]
	}

	parts := strings.Split(key, ".")
	var current interface{} = langTranslations

	for _, part := range parts {
		if m, ok := current.(map[string]interface{}); ok {
			current = m[part]
		} else {
			return key
		}
	}

	text, ok := current.(string)
	if !ok {
		return key
	}

	return replacePlaceholders(text, params)
}

func replacePlaceholders(text string, params map[string]interface{}) string {
	if len(params) == 0 {
		return text
	}

	pairs := make([]string, 0, len(params)*2)
	for key, value := range params {
		pairs = append(pairs, "{{"+key+"}}", fmt.Sprint(value))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
