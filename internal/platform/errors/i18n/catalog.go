// Package i18n provides internationalization support for error messages.
package i18n

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/language"
)

// BaseLocale is the locale used when a requested one has no catalog.
const BaseLocale = "en-US"

// Code is a machine-readable error code (duplicated from errors package to avoid cycle).
type Code = string

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale   string
	messages map[Code]string
}

// registry keeps catalogs in registration order; the matcher is rebuilt
// over their tags on every registration and its first tag is the fallback.
type registry struct {
	mu       sync.RWMutex
	tags     []language.Tag
	catalogs []*Catalog
	matcher  language.Matcher
}

var catalogs = newRegistry(enUSCatalog, frFRCatalog)

func newRegistry(builtin ...*Catalog) *registry {
	r := &registry{}
	for _, cat := range builtin {
		if err := r.register(cat.locale, cat); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *registry) register(locale string, cat *Catalog) error {
	tag, err := parseLocale(locale)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := false
	for i, existing := range r.tags {
		if existing.String() == tag.String() {
			r.catalogs[i] = cat
			replaced = true
			break
		}
	}
	if !replaced {
		r.tags = append(r.tags, tag)
		r.catalogs = append(r.catalogs, cat)
	}
	r.matcher = language.NewMatcher(r.tags)
	return nil
}

func (r *registry) match(tag language.Tag) *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, index, confidence := r.matcher.Match(tag)
	if confidence == language.No {
		return r.catalogs[0]
	}
	return r.catalogs[index]
}

func (r *registry) base() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalogs[0]
}

// parseLocale reads a BCP 47 tag, also accepting "_" as separator.
func parseLocale(locale string) (language.Tag, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	tag, err := language.Parse(normalized)
	if err != nil {
		return language.Und, fmt.Errorf("parse locale %q: %w", locale, err)
	}
	return tag, nil
}

// GetCatalog returns the catalog closest to the given locale: the exact tag,
// then the same language, then en-US.
func GetCatalog(locale string) *Catalog {
	if strings.TrimSpace(locale) == "" {
		return catalogs.base()
	}
	tag, err := parseLocale(locale)
	if err != nil {
		return catalogs.base()
	}
	return catalogs.match(tag)
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template with the given metadata.
// Falls back to the error code itself if no template is found.
// Templates are always executed even with nil/empty metadata to ensure
// consistent output (template variables without metadata render as empty).
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

// RegisterCatalog registers cat for locale, replacing any catalog already
// registered for the same tag.
func RegisterCatalog(locale string, cat *Catalog) error {
	if cat == nil {
		return fmt.Errorf("register catalog %q: catalog is required", locale)
	}
	return catalogs.register(locale, cat)
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
