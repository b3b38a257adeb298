// Package i18n provides localized client messages for coded errors.
package i18n

import (
	"bytes"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/language"
)

// BaseLocale is served when no requested locale matches.
const BaseLocale = "en-US"

// Code is a machine-readable error code (duplicated from errors package to avoid cycle).
type Code = string

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale   string
	messages map[Code]string
}

var (
	catalogsMu sync.RWMutex
	catalogs   = map[string]*Catalog{
		BaseLocale: enUSCatalog,
		"es-ES":    esESCatalog,
	}
	matcher = newMatcher()
)

// GetCatalog returns the catalog registered for locale.
// Falls back to en-US if the locale is not found.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = BaseLocale
	}
	if c, ok := lookupCatalog(requested); ok {
		return c
	}
	c, _ := lookupCatalog(BaseLocale)
	return c
}

// ForAcceptLanguage picks the closest catalog for an Accept-Language header.
func ForAcceptLanguage(header string) *Catalog {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return GetCatalog(BaseLocale)
	}
	catalogsMu.RLock()
	m := matcher
	catalogsMu.RUnlock()
	_, index, confidence := m.matcher.Match(tags...)
	if confidence == language.No {
		return GetCatalog(BaseLocale)
	}
	return GetCatalog(m.locales[index])
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template with the given metadata.
// Falls back to the error code itself if no template is found.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	tmpl, ok := c.messages[code]
	if !ok {
		return code
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	t, err := template.New("msg").Parse(tmpl)
	if err != nil {
		return tmpl
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, metadata); err != nil {
		return tmpl
	}
	return buf.String()
}

// RegisterCatalog registers a catalog for the given locale and makes it
// eligible for Accept-Language matching.
func RegisterCatalog(locale string, cat *Catalog) {
	catalogsMu.Lock()
	defer catalogsMu.Unlock()
	catalogs[locale] = cat
	matcher = newMatcherLocked()
}

// NewCatalog creates a new catalog with the given locale and messages.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	cloned := make(map[Code]string, len(messages))
	for key, value := range messages {
		cloned[key] = value
	}
	return &Catalog{
		locale:   locale,
		messages: cloned,
	}
}

func lookupCatalog(locale string) (*Catalog, bool) {
	catalogsMu.RLock()
	defer catalogsMu.RUnlock()
	cat, ok := catalogs[locale]
	return cat, ok
}

type localeMatcher struct {
	matcher language.Matcher
	locales []string
}

func newMatcher() localeMatcher {
	return newMatcherLocked()
}

// newMatcherLocked expects catalogsMu held, or package init.
func newMatcherLocked() localeMatcher {
	// The base locale comes first so it wins ties.
	locales := []string{BaseLocale}
	tags := []language.Tag{language.MustParse(BaseLocale)}
	for locale := range catalogs {
		if locale == BaseLocale {
			continue
		}
		tag, err := language.Parse(locale)
		if err != nil {
			continue
		}
		locales = append(locales, locale)
		tags = append(tags, tag)
	}
	return localeMatcher{matcher: language.NewMatcher(tags), locales: locales}
}
