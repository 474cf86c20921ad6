package resolver

import (
	"fmt"
	"os"
	"strings"

	cachepolicy "github.com/always-cache/record-resolver/pkg/cache-policy"
	"github.com/always-cache/record-resolver/store"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Address to listen on, e.g. ":8080".
	Listen string `yaml:"listen"`
	// Database file for the sqlite provider.
	Database string `yaml:"database"`
	// Record store provider, "sqlite" or "memory".
	Provider string `yaml:"provider"`
	// Request header carrying the name of the calling principal.
	PrincipalHeader string             `yaml:"principalHeader"`
	Collections     []CollectionConfig `yaml:"collections"`
	// Cache-Control rules for record responses.
	Rules cachepolicy.Rules `yaml:"rules"`
}

type CollectionConfig struct {
	Name string `yaml:"name"`
	// Field holding the modification time, used for Last-Modified.
	UpdatedAtField string `yaml:"updatedAtField"`
	// Field holding the owning principal.
	OwnerField string `yaml:"ownerField"`
	// Records with this field set are treated as deleted.
	DeletedAtField string `yaml:"deletedAtField"`
	// Anyone may read public records.
	Public bool           `yaml:"public"`
	Etag   store.EtagMode `yaml:"etag"`
	// Send weak instead of strong entity tags.
	Weak bool `yaml:"weak"`
}

const (
	defaultListen          = ":8080"
	defaultProvider        = "sqlite"
	defaultPrincipalHeader = "X-User"
)

// LoadConfig reads a YAML config file, applies defaults and validates it.
func LoadConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, err
	}
	config = config.WithDefaults()
	return config, config.Validate()
}

// WithDefaults returns a copy of the config with unset values defaulted.
func (c Config) WithDefaults() Config {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Provider == "" {
		c.Provider = defaultProvider
	}
	if c.PrincipalHeader == "" {
		c.PrincipalHeader = defaultPrincipalHeader
	}
	collections := make([]CollectionConfig, len(c.Collections))
	for i, col := range c.Collections {
		if col.Etag == "" {
			col.Etag = store.EtagNone
		}
		collections[i] = col
	}
	c.Collections = collections
	return c
}

// Validate reports all problems of the config at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Provider != "sqlite" && c.Provider != "memory" {
		result = multierror.Append(result, fmt.Errorf("Unsupported provider %q", c.Provider))
	}
	if len(c.Collections) == 0 {
		result = multierror.Append(result, fmt.Errorf("No collections configured"))
	}
	seen := make(map[string]bool)
	for i, col := range c.Collections {
		if col.Name == "" || strings.ContainsAny(col.Name, "/?#") {
			result = multierror.Append(result, fmt.Errorf("Collection %d: invalid name %q", i, col.Name))
		} else if seen[col.Name] {
			result = multierror.Append(result, fmt.Errorf("Collection %q: duplicate name", col.Name))
		}
		seen[col.Name] = true
		switch col.Etag {
		case store.EtagNone, store.EtagStored, store.EtagGenerated:
		default:
			result = multierror.Append(result, fmt.Errorf("Collection %q: unsupported etag mode %q", col.Name, col.Etag))
		}
		if col.Weak && col.Etag == store.EtagNone {
			result = multierror.Append(result, fmt.Errorf("Collection %q: weak etags need an etag mode", col.Name))
		}
		if !col.Public && col.OwnerField == "" {
			result = multierror.Append(result, fmt.Errorf("Collection %q: private collections need an owner field", col.Name))
		}
	}
	return result.ErrorOrNil()
}

// Schemas returns the store schemas of the configured collections.
func (c Config) Schemas() store.Schemas {
	schemas := make(store.Schemas, len(c.Collections))
	for _, col := range c.Collections {
		schemas[col.Name] = store.Schema{
			UpdatedAtField: col.UpdatedAtField,
			Etag:           col.Etag,
		}
	}
	return schemas
}

func (c Config) collection(name string) (CollectionConfig, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return CollectionConfig{}, false
}
