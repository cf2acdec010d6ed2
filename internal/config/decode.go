package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

// detectFormat picks the decoder from the file extension. Files without a
// known extension are sniffed: a leading '{' means JSON, anything else YAML.
func detectFormat(path string, b []byte) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".json":
		return formatJSON
	}
	if t := bytes.TrimSpace(b); len(t) > 0 && t[0] == '{' {
		return formatJSON
	}
	return formatYAML
}

// decodeStrict decodes a config file into out. YAML is converted to JSON
// first so both formats go through the same strict decoder: unknown keys and
// trailing documents are errors. An empty file leaves out untouched.
func decodeStrict(path string, b []byte, out *Config) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	f := detectFormat(path, b)
	jb := b
	if f == formatYAML {
		var err error
		if jb, err = yamlToJSON(b); err != nil {
			return err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", f, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return fmt.Errorf("decode %s: trailing data after config", f)
		}
		return fmt.Errorf("decode %s: %w", f, err)
	}
	return nil
}

func yamlToJSON(b []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			// Comments only.
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode yaml: config must be a single document")
	}
	v, err := jsonable("", v)
	if err != nil {
		return nil, err
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return j, nil
}

// jsonable rewrites YAML maps to string-keyed maps and rejects values JSON
// cannot carry. path is the dotted key path used in errors, e.g.
// "plugins.netprobe.interval".
func jsonable(path string, in any) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			nv, err := jsonable(joinPath(path, k), v)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			key := fmt.Sprint(k)
			nv, err := jsonable(joinPath(path, key), v)
			if err != nil {
				return nil, err
			}
			m[key] = nv
		}
		return m, nil
	case []any:
		for i := range x {
			nv, err := jsonable(fmt.Sprintf("%s[%d]", orRoot(path), i), x[i])
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, fmt.Errorf("decode yaml: %s: %v has no JSON form", orRoot(path), x)
		}
	}
	return in, nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func orRoot(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
