package notification

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Template is a title/message pair with {{field}} placeholders.
type Template struct {
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
}

// Catalog maps normalized event types to notification text.
type Catalog struct {
	Notifiable []string            `yaml:"notifiable"`
	Types      map[string]Template `yaml:"types"`
	Prefixes   map[string]Template `yaml:"prefixes"`
	Default    Template            `yaml:"default"`

	notifiable map[string]struct{}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded notification catalog: %v", err))
	}
	return c
}

// ParseCatalog decodes a YAML catalog. Type and prefix keys are
// normalized, so "appointment_created" and "appointment.created" are the
// same entry.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse notification catalog: %w", err)
	}
	if len(c.Notifiable) == 0 {
		return nil, fmt.Errorf("parse notification catalog: no notifiable prefixes")
	}

	c.notifiable = make(map[string]struct{}, len(c.Notifiable))
	for _, p := range c.Notifiable {
		c.notifiable[push.NormalizeType(p)] = struct{}{}
	}
	c.Types = normalizeKeys(c.Types)
	c.Prefixes = normalizeKeys(c.Prefixes)
	return &c, nil
}

func normalizeKeys(in map[string]Template) map[string]Template {
	out := make(map[string]Template, len(in))
	for k, v := range in {
		out[push.NormalizeType(k)] = v
	}
	return out
}

// IsNotifiable reports whether events of this type become notifications.
func (c *Catalog) IsNotifiable(eventType string) bool {
	typ := push.NormalizeType(eventType)
	category := typ
	if i := strings.IndexByte(typ, '.'); i >= 0 {
		category = typ[:i]
	}
	_, ok := c.notifiable[category]
	return ok
}

// Lookup returns the template for eventType: exact type first, then the
// longest matching prefix, then the default.
func (c *Catalog) Lookup(eventType string) Template {
	typ := push.NormalizeType(eventType)
	if t, ok := c.Types[typ]; ok {
		return t
	}
	for prefix := typ; prefix != ""; {
		if t, ok := c.Prefixes[prefix]; ok {
			return t
		}
		i := strings.LastIndexByte(prefix, '.')
		if i < 0 {
			break
		}
		prefix = prefix[:i]
	}
	return c.Default
}

// Render fills the template for event.
func (c *Catalog) Render(event push.Event) (title, message string) {
	t := c.Lookup(event.Type)
	title = fill(t.Title, event)
	message = fill(t.Message, event)
	if title == "" {
		title = fill(c.Default.Title, event)
	}
	return title, message
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

func fill(tmpl string, event push.Event) string {
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		return event.PayloadString(key)
	})
	return strings.Join(strings.Fields(out), " ")
}
