package capability

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

// Config is an opaque configuration document handed to the manager. Only its
// presence and parseability are checked; contents pass through untouched.
type Config map[string]any

// ParseConfig validates raw as a JSON object document. A YAML mapping is
// accepted as an alternate encoding. An empty or non-object document is a
// config error.
func ParseConfig(raw string) (Config, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ferrors.ConfigError("config is required").Build()
	}

	var cfg Config
	jsonErr := json.Unmarshal([]byte(trimmed), &cfg)
	if jsonErr == nil && cfg != nil {
		return cfg, nil
	}

	// JSON objects always start with '{'; anything else that failed as JSON
	// gets one more chance as a YAML mapping.
	if !strings.HasPrefix(trimmed, "{") {
		var ycfg map[string]any
		if err := yaml.Unmarshal([]byte(trimmed), &ycfg); err == nil && ycfg != nil {
			return Config(ycfg), nil
		}
	}

	b := ferrors.ConfigError("config is not a JSON object").
		WithContext("length", len(trimmed))
	if jsonErr != nil {
		b = b.WithCause(jsonErr)
	}
	return nil, b.Build()
}

// String renders cfg as compact JSON. A nil config renders as "{}".
func (c Config) String() string {
	if c == nil {
		return "{}"
	}
	b, err := json.Marshal(map[string]any(c))
	if err != nil {
		return "{}"
	}
	return string(b)
}

