package providers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// EnvPrefix starts every provider configuration key.
const EnvPrefix = "AUTH_"

// ProviderConfig is the validated, read-only configuration of one provider.
type ProviderConfig struct {
	ID           string
	Family       Family
	DisplayName  string
	Index        int
	CallbackPath string

	values map[string]any
}

// String returns a string field, or "" when unset.
func (c ProviderConfig) String(name string) string {
	s, _ := c.values[name].(string)
	return s
}

// Strings returns an array field.
func (c ProviderConfig) Strings(name string) []string {
	v, _ := c.values[name].([]string)
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// Bool returns a boolean field.
func (c ProviderConfig) Bool(name string) bool {
	b, _ := c.values[name].(bool)
	return b
}

// Int returns an integer field.
func (c ProviderConfig) Int(name string) int {
	n, _ := c.values[name].(int)
	return n
}

// Config is the whole provider configuration loaded at startup.
type Config struct {
	LocalEnabled bool
	Providers    map[string]ProviderConfig
}

// Sorted returns the provider configs in display order.
func (c *Config) Sorted() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FieldError is one schema violation.
type FieldError struct {
	Provider string
	Field    string
	Message  string
}

func (f FieldError) String() string {
	if f.Field == "" {
		return f.Provider + ": " + f.Message
	}
	return f.Provider + "." + f.Field + ": " + f.Message
}

// ValidationError lists every schema violation found while loading.
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "providers: invalid configuration: " + strings.Join(parts, "; ")
}

/*─────────────────────────────────────────────────────────────────────────────*
| Schema                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

type kind int

const (
	kindString kind = iota
	kindBool
	kindInt
	kindArray
)

type field struct {
	kind     kind
	required bool
	def      any
}

var common = map[string]field{
	"type":         {kind: kindString, required: true},
	"displayName":  {kind: kindString},
	"index":        {kind: kindInt},
	"callbackPath": {kind: kindString},
}

var schemas = map[Family]map[string]field{
	FamilyGoogle: {
		"clientID":     {kind: kindString, required: true},
		"clientSecret": {kind: kindString, required: true},
		"scope":        {kind: kindArray, def: []string{"openid", "email", "profile"}},
		"authURL":      {kind: kindString},
		"tokenURL":     {kind: kindString},
		"userinfoURL":  {kind: kindString, def: googleUserInfoURL},
	},
	FamilyOIDC: {
		"issuer":       {kind: kindString, required: true},
		"clientID":     {kind: kindString, required: true},
		"clientSecret": {kind: kindString, required: true},
		"scope":        {kind: kindArray, def: []string{"openid", "email", "profile"}},
	},
	FamilySAML: {
		"entityID":       {kind: kindString, required: true},
		"idpMetadataURL": {kind: kindString},
		"idpMetadataXML": {kind: kindString},
		"certFile":       {kind: kindString, required: true},
		"keyFile":        {kind: kindString, required: true},
		"emailAttribute": {kind: kindString, def: "email"},
		"nameAttribute":  {kind: kindString, def: "displayName"},
	},
}

var defaultDisplayNames = map[Family]string{
	FamilyGoogle: "Google",
	FamilyOIDC:   "Single sign-on",
	FamilySAML:   "Institution sign-in",
}

func lookupField(f Family, name string) (field, bool) {
	if fd, ok := common[name]; ok {
		return fd, true
	}
	fd, ok := schemas[f][name]
	return fd, ok
}

// PropertyName maps a SNAKE_CASE property onto its camelCase field name.
// ID and URL segments keep their upper case: CLIENT_ID -> clientID,
// IDP_METADATA_URL -> idpMetadataURL.
func PropertyName(snake string) string {
	parts := strings.Split(strings.ToLower(snake), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		switch {
		case i == 0:
			b.WriteString(p)
		case p == "id":
			b.WriteString("ID")
		case p == "url":
			b.WriteString("URL")
		default:
			b.WriteString(strings.ToUpper(p[:1]) + p[1:])
		}
	}
	return b.String()
}

func coerce(k kind, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch k {
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected a boolean, got %q", raw)
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", raw)
		}
		return n, nil
	case kindArray:
		var out []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Loading                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

// LoadFromEnvironment assembles the provider configuration from KEY=VALUE
// pairs (typically os.Environ()). Keys follow AUTH_<PROVIDER>_<PROPERTY>.
//
// Any schema violation fails the whole load: the result is nil and the
// returned *ValidationError lists every problem. Unrecognized properties are
// logged and ignored.
func LoadFromEnvironment(environ []string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := &Config{LocalEnabled: true, Providers: map[string]ProviderConfig{}}
	raw := map[string]map[string]string{}
	var problems []FieldError

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		provider, prop, ok := strings.Cut(strings.TrimPrefix(key, EnvPrefix), "_")
		if !ok || provider == "" || prop == "" {
			logger.Warn("providers: ignoring malformed key", zap.String("key", key))
			continue
		}
		id := strings.ToLower(provider)
		name := PropertyName(prop)

		if id == string(FamilyLocal) {
			if name != "enabled" {
				logger.Warn("providers: ignoring unrecognized key", zap.String("key", key))
				continue
			}
			v, err := coerce(kindBool, value)
			if err != nil {
				problems = append(problems, FieldError{Provider: id, Field: name, Message: err.Error()})
				continue
			}
			cfg.LocalEnabled = v.(bool)
			continue
		}

		if raw[id] == nil {
			raw[id] = map[string]string{}
		}
		raw[id][name] = value
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	explicitMax := -1
	var unindexed []string

	for _, id := range ids {
		props := raw[id]
		family := Family(strings.ToLower(strings.TrimSpace(props["type"])))
		if _, ok := schemas[family]; !ok {
			if props["type"] == "" {
				problems = append(problems, FieldError{Provider: id, Field: "type", Message: "is required"})
			} else {
				problems = append(problems, FieldError{Provider: id, Field: "type", Message: fmt.Sprintf("unknown provider type %q", props["type"])})
			}
			continue
		}

		values := map[string]any{}
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fd, ok := lookupField(family, name)
			if !ok {
				logger.Warn("providers: ignoring unrecognized property",
					zap.String("provider", id), zap.String("property", name))
				continue
			}
			v, err := coerce(fd.kind, props[name])
			if err != nil {
				problems = append(problems, FieldError{Provider: id, Field: name, Message: err.Error()})
				continue
			}
			values[name] = v
		}

		for name, fd := range schemas[family] {
			if _, ok := values[name]; ok {
				if s, isStr := values[name].(string); !isStr || s != "" {
					continue
				}
			}
			if fd.required {
				problems = append(problems, FieldError{Provider: id, Field: name, Message: "is required"})
				continue
			}
			if fd.def != nil {
				values[name] = fd.def
			}
		}

		if family == FamilySAML {
			url, _ := values["idpMetadataURL"].(string)
			xml, _ := values["idpMetadataXML"].(string)
			if (url == "") == (xml == "") {
				problems = append(problems, FieldError{Provider: id, Field: "idpMetadataURL", Message: "exactly one of idpMetadataURL or idpMetadataXML is required"})
			}
		}

		pc := ProviderConfig{
			ID:           id,
			Family:       family,
			DisplayName:  stringOr(values["displayName"], defaultDisplayNames[family]),
			CallbackPath: stringOr(values["callbackPath"], "/auth/"+id+"/callback"),
			values:       values,
		}
		if !strings.HasPrefix(pc.CallbackPath, "/") {
			problems = append(problems, FieldError{Provider: id, Field: "callbackPath", Message: "must start with /"})
		}
		if n, ok := values["index"].(int); ok {
			pc.Index = n
			if n > explicitMax {
				explicitMax = n
			}
		} else {
			unindexed = append(unindexed, id)
		}
		cfg.Providers[id] = pc
	}

	if len(problems) > 0 {
		for _, p := range problems {
			logger.Error("providers: configuration error",
				zap.String("provider", p.Provider), zap.String("field", p.Field), zap.String("problem", p.Message))
		}
		return nil, &ValidationError{Problems: problems}
	}

	// ids is sorted, so unindexed providers get indexes in id order
	next := explicitMax + 1
	for _, id := range unindexed {
		pc := cfg.Providers[id]
		pc.Index = next
		cfg.Providers[id] = pc
		next++
	}

	return cfg, nil
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}
