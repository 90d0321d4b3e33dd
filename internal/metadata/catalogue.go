// Package metadata resolves app identifiers to display metadata.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownApp is returned when no metadata exists for an app id.
var ErrUnknownApp = errors.New("metadata: unknown app")

// AppMetadata decorates an app id for display.
type AppMetadata struct {
	Label    string `yaml:"label" json:"label"`
	Icon     string `yaml:"icon" json:"icon,omitempty"`
	Category string `yaml:"category" json:"category,omitempty"`
	Color    string `yaml:"color" json:"color,omitempty"`
}

// Resolver looks up metadata for an app id.
type Resolver interface {
	Lookup(appID string) (AppMetadata, error)
}

// Resolve returns metadata for appID, degrading to the raw id as label when
// r is nil or the lookup fails.
func Resolve(r Resolver, appID string) AppMetadata {
	if r == nil {
		return AppMetadata{Label: appID}
	}
	meta, err := r.Lookup(appID)
	if err != nil {
		return AppMetadata{Label: appID}
	}
	if meta.Label == "" {
		meta.Label = appID
	}
	return meta
}

// App is one catalogue entry.
type App struct {
	ID          string `yaml:"id"`
	AppMetadata `yaml:",inline"`
}

// Category groups apps by id pattern and supplies shared styling.
type Category struct {
	// Name is the category shown for matching apps
	Name string `yaml:"name"`

	// Color is applied to apps without their own color
	Color string `yaml:"color"`

	// Patterns are app id patterns (supports a single * wildcard)
	Patterns []string `yaml:"patterns"`
}

// Catalogue is a static app metadata table loaded from YAML.
type Catalogue struct {
	Apps       []App      `yaml:"apps"`
	Categories []Category `yaml:"categories"`

	byID map[string]AppMetadata
}

// DefaultCatalogue returns a catalogue covering common system packages.
func DefaultCatalogue() *Catalogue {
	c := &Catalogue{
		Apps: []App{
			{ID: "com.android.systemui", AppMetadata: AppMetadata{Label: "System UI"}},
			{ID: "com.android.settings", AppMetadata: AppMetadata{Label: "Settings"}},
			{ID: "com.android.chrome", AppMetadata: AppMetadata{Label: "Chrome"}},
			{ID: "com.google.android.youtube", AppMetadata: AppMetadata{Label: "YouTube"}},
		},
		Categories: []Category{
			{Name: "system", Color: "grey", Patterns: []string{"com.android.*", "com.google.android.apps.nexuslauncher"}},
			{Name: "social", Color: "magenta", Patterns: []string{"com.instagram.*", "com.zhiliaoapp.*", "com.snapchat.*", "com.facebook.*"}},
			{Name: "video", Color: "red", Patterns: []string{"com.google.android.youtube", "com.netflix.*"}},
		},
	}
	c.index()
	return c
}

// LoadCatalogue reads a catalogue from a YAML file. A missing file yields
// the default catalogue.
func LoadCatalogue(path string) (*Catalogue, error) {
	if path == "" {
		return DefaultCatalogue(), nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCatalogue(), nil
		}
		return nil, fmt.Errorf("read catalogue: %w", err)
	}

	return ParseCatalogue(data)
}

// ParseCatalogue parses catalogue YAML.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	c := &Catalogue{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	for i, app := range c.Apps {
		if app.ID == "" {
			return nil, fmt.Errorf("parse catalogue: app %d has no id", i)
		}
	}
	c.index()
	return c, nil
}

func (c *Catalogue) index() {
	c.byID = make(map[string]AppMetadata, len(c.Apps))
	for _, app := range c.Apps {
		c.byID[app.ID] = app.AppMetadata
	}
}

// Lookup implements Resolver. Apps listed explicitly win; otherwise the
// first matching category supplies the category and color.
func (c *Catalogue) Lookup(appID string) (AppMetadata, error) {
	meta, listed := c.byID[appID]

	if cat := c.category(appID); cat != nil {
		if meta.Category == "" {
			meta.Category = cat.Name
		}
		if meta.Color == "" {
			meta.Color = cat.Color
		}
	} else if !listed {
		return AppMetadata{}, fmt.Errorf("%w: %s", ErrUnknownApp, appID)
	}

	if meta.Label == "" {
		meta.Label = appID
	}
	return meta, nil
}

func (c *Catalogue) category(appID string) *Category {
	for i := range c.Categories {
		cat := &c.Categories[i]
		for _, p := range cat.Patterns {
			if matchPattern(p, appID) {
				return cat
			}
		}
	}
	return nil
}

// matchPattern checks if a pattern matches (supports a single * wildcard)
func matchPattern(pattern, value string) bool {
	if pattern == value {
		return true
	}

	if prefix, suffix, ok := strings.Cut(pattern, "*"); ok {
		return len(value) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
	}

	return false
}
