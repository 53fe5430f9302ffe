// Package bundle stores named collections of tunnel-spec strings on disk,
// in a file beside config.yaml in appconfig.ConfigDir, so `plexy --bundle prod` can
// expand into the --tunnel flags a deployment repeats on every start.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/plexy/internal/appconfig"
	"github.com/relaymesh/plexy/internal/tunnelspec"
)

// Definition is a named set of tunnel-spec strings.
type Definition struct {
	Name    string   `yaml:"name" json:"name"`
	Tunnels []string `yaml:"tunnels" json:"tunnels"`
}

type fileModel struct {
	Bundles map[string]Definition `yaml:"bundles"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bundles.yaml"), nil
}

// LoadAll returns all bundles sorted by name.
func LoadAll() ([]Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(fm.Bundles))
	for _, b := range fm.Bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one bundle by name.
func Get(name string) (Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return Definition{}, err
	}
	b, ok := fm.Bundles[name]
	if !ok {
		return Definition{}, fmt.Errorf("bundle not found: %s", name)
	}
	return b, nil
}

// Specs resolves a bundle's tunnel strings into parsed tunnelspec.Spec
// values, failing on the first malformed entry.
func Specs(name string) ([]tunnelspec.Spec, error) {
	def, err := Get(name)
	if err != nil {
		return nil, err
	}
	specs := make([]tunnelspec.Spec, 0, len(def.Tunnels))
	for _, text := range def.Tunnels {
		spec, err := tunnelspec.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: %w", name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Create adds or replaces a bundle definition, validating every tunnel
// string up front so a typo is caught at `bundle create` time rather than
// at startup.
func Create(name string, tunnels []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("bundle name cannot be empty")
	}
	if len(tunnels) == 0 {
		return fmt.Errorf("bundle must include at least one tunnel definition")
	}
	for i, text := range tunnels {
		if _, err := tunnelspec.Parse(text); err != nil {
			return fmt.Errorf("bundle entry %d: %w", i, err)
		}
	}

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Bundles[name] = Definition{Name: name, Tunnels: tunnels}
	return saveFile(fm)
}

// Delete removes a bundle by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Bundles[name]; !ok {
		return fmt.Errorf("bundle not found: %s", name)
	}
	delete(fm.Bundles, name)
	return saveFile(fm)
}

func loadFile() (fileModel, error) {
	path, err := filePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Bundles: map[string]Definition{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse bundles: %w", err)
	}
	if fm.Bundles == nil {
		fm.Bundles = map[string]Definition{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
