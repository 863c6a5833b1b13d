package configutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	ext := filepath.Ext(f)
	return strings.TrimSuffix(f, ext), strings.TrimPrefix(ext, ".")
}

// Layers returns the files ReadConfig considers for `name`, lowest priority
// first.
//  1. <name>.<ext>
//  2. <name>.local.<ext>
func Layers(name string) []string {
	dirname := filepath.Dir(name)
	prefix, ext := splitExt(filepath.Base(name))
	return []string{
		name,
		filepath.Join(dirname, fmt.Sprintf("%s.local.%s", prefix, ext)),
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${NAME} references with the JSON-escaped value of
// the environment variable. unset variables are left untouched.
func expandEnv(src []byte) []byte {
	return envRef.ReplaceAllFunc(src, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		value, ok := os.LookupEnv(string(name))
		if !ok {
			return ref
		}
		quoted, _ := json.Marshal(value)
		return quoted[1 : len(quoted)-1]
	})
}

func readLayer(path string, out any) (bool, error) {
	buff, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(buff) == 0 {
		return false, nil
	}
	err = json5.Unmarshal(expandEnv(buff), out)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ReadConfig reads a json5 configuration file along with its local
// override (see Layers), later layers override non-zero fields of
// earlier ones. ${NAME} references are expanded from the environment so
// tokens can stay out of the file.
func ReadConfig[T any](name string) (T, error) {
	var out T
	found := false
	for _, path := range Layers(name) {
		var layer T
		ok, err := readLayer(path, &layer)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}
		if !found {
			out = layer
			found = true
			continue
		}
		err = mergo.Merge(&out, layer, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("merge %s: %w", path, err)
		}
		slog.Info("merging config with local overrides", "local", path)
	}
	if !found {
		return out, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return out, nil
}
