package repo

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"gopkg.in/yaml.v3"
)

// DefaultAssetTypes is the asset type vocabulary used if no validation
// rule for asset types is configured.
var DefaultAssetTypes = []string{
	"table", "view", "model", "file", "dataset", "document", "embedding", "feature", "notebook",
}

// ValueRegexp is a wrapper around regexp.Regexp to allow for custom YAML unmarshaling.
type ValueRegexp regexp.Regexp

// ValueRule defines a validation rule for a string value.
// It can enforce a specific list of values or a set of regular expressions.
type ValueRule struct {
	Values  []string       `yaml:"values"`
	Matches []*ValueRegexp `yaml:"matches"`
}

type AssetValidationRules struct {
	Type *ValueRule `yaml:"type"`
	// Allowed URL schemes of asset locations, e.g. "s3", "https".
	LocationScheme *ValueRule `yaml:"locationScheme"`
}

type ProcessValidationRules struct {
	Stage *ValueRule `yaml:"stage"`
}

type ConnectionValidationRules struct {
	ServiceType *ValueRule `yaml:"serviceType"`
}

type CatalogValidationRules struct {
	Asset      *AssetValidationRules      `yaml:"asset"`
	Process    *ProcessValidationRules    `yaml:"process"`
	Connection *ConnectionValidationRules `yaml:"connection"`
}

// Config holds repository-specific application configuration.
type Config struct {
	Validation *CatalogValidationRules `yaml:"validation"`
}

func (c *Config) assetTypeRule() *ValueRule {
	if c.Validation != nil && c.Validation.Asset != nil && c.Validation.Asset.Type != nil {
		return c.Validation.Asset.Type
	}
	return &ValueRule{Values: DefaultAssetTypes}
}

// AcceptAsset checks a against the configured rules.
func (c *Config) AcceptAsset(a *catalog.Asset) error {
	if rule := c.assetTypeRule(); !rule.Accept(a.Type) {
		return fmt.Errorf("invalid asset_type %q (allowed: %s)", a.Type, rule.Describe())
	}
	if c.Validation == nil || c.Validation.Asset == nil {
		return nil
	}
	if rule := c.Validation.Asset.LocationScheme; rule != nil {
		scheme, _, _ := strings.Cut(a.Location, ":")
		if !rule.Accept(scheme) {
			return fmt.Errorf("invalid location scheme %q (allowed: %s)", scheme, rule.Describe())
		}
	}
	return nil
}

// AcceptProcess checks p against the configured rules.
func (c *Config) AcceptProcess(p *catalog.Process) error {
	if c.Validation == nil || c.Validation.Process == nil {
		return nil
	}
	if rule := c.Validation.Process.Stage; !rule.Accept(p.Lifecycle.Stage) {
		return fmt.Errorf("invalid lifecycle stage %q (allowed: %s)", p.Lifecycle.Stage, rule.Describe())
	}
	return nil
}

// AcceptConnection checks conn against the configured rules.
func (c *Config) AcceptConnection(conn *catalog.ClientConnection) error {
	if c.Validation == nil || c.Validation.Connection == nil {
		return nil
	}
	if rule := c.Validation.Connection.ServiceType; !rule.Accept(conn.ServiceType) {
		return fmt.Errorf("invalid service_type %q (allowed: %s)", conn.ServiceType, rule.Describe())
	}
	return nil
}

// Describe returns a human-readable description of the allowed values.
func (r *ValueRule) Describe() string {
	if r == nil {
		return "any value"
	}
	if len(r.Values) > 0 {
		// e.g. "one of [table, view]"
		return fmt.Sprintf("one of [%s]", strings.Join(r.Values, ", "))
	}
	if len(r.Matches) > 0 {
		patterns := make([]string, len(r.Matches))
		for i, re := range r.Matches {
			patterns[i] = (*regexp.Regexp)(re).String()
		}
		if len(patterns) == 1 {
			return fmt.Sprintf("matching pattern %s", patterns[0])
		}
		return fmt.Sprintf("matching any of patterns [%s]", strings.Join(patterns, ", "))
	}
	return "any value"
}

// Accept checks if a given value is valid according to the rule.
func (r *ValueRule) Accept(val string) bool {
	if r == nil {
		// If no rule is defined, all values are accepted.
		return true
	}
	if r.Values != nil {
		return slices.Contains(r.Values, val)
	}
	if r.Matches != nil {
		for _, re := range r.Matches {
			if (*regexp.Regexp)(re).MatchString(val) {
				return true
			}
		}
		return false
	}
	// An empty rule (e.g., "type:") accepts all values.
	return true
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for ValueRegexp.
// Patterns must match the full value.
func (vr *ValueRegexp) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return fmt.Errorf("regexp pattern in validation rule cannot be empty")
	}

	re, err := regexp.Compile("^(?:" + s + ")$")
	if err != nil {
		return fmt.Errorf("failed to compile validation regexp %q: %w", s, err)
	}
	*vr = ValueRegexp(*re)
	return nil
}
