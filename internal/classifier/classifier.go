package classifier

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"checkpointfeed/internal/models"
	"checkpointfeed/internal/registry"
)

//go:embed rules.yaml
var defaultRules []byte

// decorations are stripped from the cleaned text.
var decorations = regexp.MustCompile(`[🔴❌✅\x{FE0F}🤍🤝⚠✋]+`)

type StatusRule struct {
	Status   models.Status
	Keywords []string
}

type DirectionRule struct {
	Direction models.Direction
	Keywords  []string
}

// Rules are the ordered keyword groups. Earlier groups take precedence.
type Rules struct {
	Status    []StatusRule
	Direction []DirectionRule
}

type rulesFile struct {
	Status []struct {
		Status   string   `yaml:"status"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"status"`
	Direction []struct {
		Direction string   `yaml:"direction"`
		Keywords  []string `yaml:"keywords"`
	} `yaml:"direction"`
}

// DefaultRules returns the built-in keyword groups.
func DefaultRules() (Rules, error) {
	return ParseRules(defaultRules)
}

func ParseRules(raw []byte) (Rules, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Rules{}, fmt.Errorf("classifier: decode rules: %w", err)
	}
	var out Rules
	for _, g := range doc.Status {
		st, err := models.ParseStatus(g.Status)
		if err != nil || st == models.StatusUnknown {
			return Rules{}, fmt.Errorf("classifier: bad status group %q", g.Status)
		}
		out.Status = append(out.Status, StatusRule{Status: st, Keywords: lowerAll(g.Keywords)})
	}
	for _, g := range doc.Direction {
		d, err := models.ParseDirection(g.Direction)
		if err != nil || d == models.DirectionUnknown {
			return Rules{}, fmt.Errorf("classifier: bad direction group %q", g.Direction)
		}
		out.Direction = append(out.Direction, DirectionRule{Direction: d, Keywords: lowerAll(g.Keywords)})
	}
	return out, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Result is the structured reading of one message.
type Result struct {
	Checkpoint  string
	City        string
	Status      models.Status
	Direction   models.Direction
	CleanedText string
}

func (r Result) Resolved() bool {
	return r.Checkpoint != models.Unknown
}

// Classifier turns free text into a Result. It holds no mutable state and is
// safe for concurrent use.
type Classifier struct {
	Registry *registry.Registry
	Rules    Rules
	// DefaultBoth assigns DirectionBoth to resolved, actionable reports that
	// name no direction.
	DefaultBoth bool
}

// New builds a classifier over the built-in rules.
func New(reg *registry.Registry, defaultBoth bool) (*Classifier, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return &Classifier{Registry: reg, Rules: rules, DefaultBoth: defaultBoth}, nil
}

func unknownResult() Result {
	return Result{Checkpoint: models.Unknown, City: models.Unknown}
}

// Classify never fails; unrecognized input yields unknown fields.
func (c *Classifier) Classify(text string) Result {
	res := unknownResult()
	if strings.TrimSpace(text) == "" {
		return res
	}
	if text == models.MediaPlaceholder {
		res.CleanedText = models.MediaPlaceholder
		return res
	}
	lower := strings.ToLower(text)

	if c != nil && c.Registry != nil {
		if e, ok := c.Registry.Match(lower); ok {
			res.Checkpoint = e.Name
			res.City = e.City
		}
	}
	if c != nil {
		res.Status = c.matchStatus(lower)
		res.Direction = c.matchDirection(lower)
		if res.Direction == models.DirectionUnknown && c.DefaultBoth && res.Resolved() &&
			res.Status != models.StatusUnknown && res.Status != models.StatusInquiry {
			res.Direction = models.DirectionBoth
		}
	}
	res.CleanedText = Clean(text)
	return res
}

func (c *Classifier) matchStatus(lower string) models.Status {
	for _, r := range c.Rules.Status {
		if containsAny(lower, r.Keywords) {
			return r.Status
		}
	}
	return models.StatusUnknown
}

func (c *Classifier) matchDirection(lower string) models.Direction {
	for _, r := range c.Rules.Direction {
		if containsAny(lower, r.Keywords) {
			return r.Direction
		}
	}
	return models.DirectionUnknown
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Clean strips decorative emoji and collapses whitespace.
func Clean(text string) string {
	return strings.Join(strings.Fields(decorations.ReplaceAllString(text, "")), " ")
}
