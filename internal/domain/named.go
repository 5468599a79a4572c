package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultEmbeddingWeight applies when a reference carries no weight.
const DefaultEmbeddingWeight = 1.0

// RegistryEntry describes an installable named embedding.
type RegistryEntry struct {
	Name          string
	Author        string
	BaseModel     string
	TriggerPhrase string
	TrainedWords  []string
	UpdatedAt     time.Time
}

// ImageEmbeddingUsage links an image to a named embedding it uses.
type ImageEmbeddingUsage struct {
	ImageID       int64
	EmbeddingName string
	Weight        float64
	IsImplicit    bool
}

// NamedReference is an explicit embedding reference found in a prompt.
type NamedReference struct {
	Name   string
	Weight float64
}

var (
	namedRefRe = regexp.MustCompile(`(?i)\bembedding:([^\s,:()<>\[\]]+)(?::(-?\d+(?:\.\d+)?))?`)
	embExtRe   = regexp.MustCompile(`(?i)\.(pt|safetensors|bin|ckpt)$`)
)

// ParseNamedReferences extracts `embedding:name[:weight]` references.
// Names lose their file extension; the first occurrence of a name wins.
func ParseNamedReferences(prompt string) []NamedReference {
	matches := namedRefRe.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]NamedReference, 0, len(matches))
	for _, m := range matches {
		name := embExtRe.ReplaceAllString(m[1], "")
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		weight := DefaultEmbeddingWeight
		if m[2] != "" {
			if w, err := strconv.ParseFloat(m[2], 64); err == nil {
				weight = w
			}
		}
		out = append(out, NamedReference{Name: name, Weight: weight})
	}
	return out
}

// MatchImplicit returns registry entries whose trigger phrase or trained words
// occur in prompt (case-insensitive), skipping names in exclude.
func MatchImplicit(prompt string, registry []RegistryEntry, exclude map[string]struct{}) []RegistryEntry {
	lp := strings.ToLower(prompt)
	var out []RegistryEntry
	for _, e := range registry {
		if _, ok := exclude[strings.ToLower(e.Name)]; ok {
			continue
		}
		if containsPhrase(lp, e.TriggerPhrase) {
			out = append(out, e)
			continue
		}
		for _, w := range e.TrainedWords {
			if containsPhrase(lp, w) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func containsPhrase(lowerPrompt, phrase string) bool {
	p := strings.ToLower(strings.TrimSpace(phrase))
	return p != "" && strings.Contains(lowerPrompt, p)
}
