// Package pricing resolves per-token rate tables from built-in defaults and
// an optional rate file keyed by model id.
package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"realtime-dashboard/internal/telemetry"
)

// Table is a resolved rate file.
type Table struct {
	Default telemetry.PricingConfig            `json:"default"`
	Models  map[string]telemetry.PricingConfig `json:"models"`
}

// DefaultTable carries only the built-in rates.
func DefaultTable() Table {
	return Table{Default: telemetry.DefaultPricing, Models: map[string]telemetry.PricingConfig{}}
}

// Rates returns the rates for model: an exact entry, else the longest entry
// that prefixes the model id, else the default.
func (t Table) Rates(model string) telemetry.PricingConfig {
	model = strings.TrimSpace(model)
	if model == "" {
		return t.Default
	}
	if rates, ok := t.Models[model]; ok {
		return rates
	}
	best := ""
	for key := range t.Models {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return t.Models[best]
	}
	return t.Default
}

// ModelIDs lists the configured model ids in order.
func (t Table) ModelIDs() []string {
	ids := make([]string, 0, len(t.Models))
	for id := range t.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// override is one rate block in the file. Missing fields inherit.
type override struct {
	AudioInputCost  *float64 `json:"audioInputCost" yaml:"audio_input_cost"`
	AudioOutputCost *float64 `json:"audioOutputCost" yaml:"audio_output_cost"`
	CachedAudioCost *float64 `json:"cachedAudioCost" yaml:"cached_audio_cost"`
	TextInputCost   *float64 `json:"textInputCost" yaml:"text_input_cost"`
	TextOutputCost  *float64 `json:"textOutputCost" yaml:"text_output_cost"`
}

type fileFormat struct {
	Default *override           `json:"default" yaml:"default"`
	Models  map[string]override `json:"models" yaml:"models"`
}

func (o override) apply(base telemetry.PricingConfig) (telemetry.PricingConfig, error) {
	fields := []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"audio_input_cost", o.AudioInputCost, &base.AudioInputCost},
		{"audio_output_cost", o.AudioOutputCost, &base.AudioOutputCost},
		{"cached_audio_cost", o.CachedAudioCost, &base.CachedAudioCost},
		{"text_input_cost", o.TextInputCost, &base.TextInputCost},
		{"text_output_cost", o.TextOutputCost, &base.TextOutputCost},
	}
	for _, f := range fields {
		if f.src == nil {
			continue
		}
		if *f.src < 0 {
			return base, fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = *f.src
	}
	return base, nil
}

// Parse decodes a rate file. JSON is used for a .json name, YAML otherwise.
// Model entries inherit any field they omit from the file's default block,
// which in turn inherits from the built-in rates.
func Parse(name string, data []byte) (Table, error) {
	var raw fileFormat
	if strings.EqualFold(filepath.Ext(name), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return Table{}, fmt.Errorf("decode %s: %w", name, err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return Table{}, fmt.Errorf("decode %s: %w", name, err)
	}

	table := DefaultTable()
	if raw.Default != nil {
		def, err := raw.Default.apply(table.Default)
		if err != nil {
			return Table{}, fmt.Errorf("default: %w", err)
		}
		table.Default = def
	}
	for id, o := range raw.Models {
		id = strings.TrimSpace(id)
		if id == "" {
			return Table{}, fmt.Errorf("empty model id")
		}
		rates, err := o.apply(table.Default)
		if err != nil {
			return Table{}, fmt.Errorf("model %s: %w", id, err)
		}
		table.Models[id] = rates
	}
	return table, nil
}

// Book holds the current table and reloads it from its file.
// It implements session.RateSource.
type Book struct {
	path string

	mu    sync.RWMutex
	table Table
}

// NewBook loads path, or serves built-in rates when path is empty.
func NewBook(path string) (*Book, error) {
	b := &Book{path: strings.TrimSpace(path), table: DefaultTable()}
	if b.path == "" {
		return b, nil
	}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Path returns the rate file path, empty when none is configured.
func (b *Book) Path() string { return b.path }

// Reload re-reads the rate file. On failure the previous table stays.
func (b *Book) Reload() error {
	if b.path == "" {
		return nil
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("read pricing file: %w", err)
	}
	table, err := Parse(b.path, data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.table = table
	b.mu.Unlock()
	return nil
}

// Rates resolves the rates for model from the current table.
func (b *Book) Rates(model string) telemetry.PricingConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.Rates(model)
}

// Table returns a copy of the current table.
func (b *Book) Table() Table {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := Table{Default: b.table.Default, Models: make(map[string]telemetry.PricingConfig, len(b.table.Models))}
	for id, rates := range b.table.Models {
		out.Models[id] = rates
	}
	return out
}
