package noise

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"checkpointfeed/internal/classifier"
	"checkpointfeed/internal/models"
)

//go:embed noise.yaml
var defaultPatterns []byte

const (
	ReasonEmpty     = "empty"
	ReasonShort     = "short_phrase"
	ReasonGreeting  = "greeting"
	ReasonUnrelated = "unrelated"
)

// Filter rejects messages that carry no checkpoint information.
type Filter struct {
	Greetings         []string `yaml:"greetings"`
	ShortPhrases      []string `yaml:"short_phrases"`
	Unrelated         []string `yaml:"unrelated"`
	GreetingMaxRunes  int      `yaml:"greeting_max_runes"`
	UnrelatedMaxRunes int      `yaml:"unrelated_max_runes"`
}

func Default() (*Filter, error) {
	return Parse(defaultPatterns)
}

func Parse(raw []byte) (*Filter, error) {
	var f Filter
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("noise: decode patterns: %w", err)
	}
	if f.GreetingMaxRunes <= 0 {
		f.GreetingMaxRunes = 30
	}
	if f.UnrelatedMaxRunes <= 0 {
		f.UnrelatedMaxRunes = 50
	}
	return &f, nil
}

// Check returns whether text is noise and the rule that rejected it.
// A message that resolved a checkpoint is never noise.
func (f *Filter) Check(text string, res classifier.Result) (bool, string) {
	if f == nil || res.Resolved() {
		return false, ""
	}
	trimmed := strings.TrimSpace(text)
	size := utf8.RuneCountInString(trimmed)

	if res.City == models.Unknown && res.Status == models.StatusUnknown {
		if trimmed == "" {
			return true, ReasonEmpty
		}
		for _, p := range f.ShortPhrases {
			if trimmed == p {
				return true, ReasonShort
			}
		}
		if size < f.GreetingMaxRunes && containsAny(trimmed, f.Greetings) {
			return true, ReasonGreeting
		}
	}
	if size < f.UnrelatedMaxRunes && containsAny(trimmed, f.Unrelated) {
		return true, ReasonUnrelated
	}
	return false, ""
}

func (f *Filter) IsNoise(text string, res classifier.Result) bool {
	noise, _ := f.Check(text, res)
	return noise
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
