package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// Read loads a json5 configuration file and, when present, merges
// `<name>.local.<ext>` over it so machine-local overrides (credentials,
// output paths) stay out of the checked-in config.
func Read[T any](name string) (T, error) {
	var out T
	found := false

	base, err := readInto(name, &out)
	if err != nil {
		return out, err
	}
	found = found || base

	ext := filepath.Ext(name)
	localName := strings.TrimSuffix(name, ext) + ".local" + ext
	var local T
	hasLocal, err := readInto(localName, &local)
	if err != nil {
		return out, err
	}
	if hasLocal {
		if err := mergo.Merge(&out, local, mergo.WithOverride); err != nil {
			return out, err
		}
		slog.Info("merged local config overrides", "path", localName)
		found = true
	}

	if !found {
		return out, fmt.Errorf("%w: %s", os.ErrNotExist, name)
	}
	return out, nil
}

func readInto[T any](path string, out *T) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json5.Unmarshal(contents, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ReadRecursively walks up from the working directory until it finds a
// config file with the given name. Tests run from nested package
// directories, so shared configs live at the repository root.
func ReadRecursively[T any](name string) (T, error) {
	var out T

	dir, err := os.Getwd()
	if err != nil {
		return out, err
	}
	for {
		candidate := filepath.Join(dir, name)
		out, err = Read[T](candidate)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return out, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return out, fmt.Errorf("%w: %s not found in any parent directory", os.ErrNotExist, name)
		}
		dir = parent
	}
}
