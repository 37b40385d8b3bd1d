package spell

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wawful/spell-sustainer/internal/chat"
	apperrors "github.com/wawful/spell-sustainer/internal/errors"
	"github.com/wawful/spell-sustainer/internal/game"
	"github.com/wawful/spell-sustainer/internal/platform/slug"
)

func normalize(name string) string { return slug.Make(name) }

// File mirrors the on-disk YAML layout of one spell configuration.
type File struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Targets  struct {
		Type      string `yaml:"type"`
		Count     int    `yaml:"count"`
		Relations []struct {
			Relationship string `yaml:"relationship"`
			Count        int    `yaml:"count"`
		} `yaml:"relations"`
	} `yaml:"targets"`
	Save *struct {
		Type    string   `yaml:"type"`
		ApplyOn []string `yaml:"apply_on"`
	} `yaml:"save"`
	Effects []struct {
		Target      string       `yaml:"target"`
		Name        string       `yaml:"name"`
		Slug        string       `yaml:"slug"`
		Description string       `yaml:"description"`
		Duration    durationFile `yaml:"duration"`
	} `yaml:"effects"`
	Sustaining struct {
		Name        string       `yaml:"name"`
		Description string       `yaml:"description"`
		MaxRounds   int          `yaml:"max_rounds"`
		Duration    durationFile `yaml:"duration"`
	} `yaml:"sustaining"`
	Aura *struct {
		BaseSize   int `yaml:"base_size"`
		Increment  int `yaml:"increment"`
		MaxCounter int `yaml:"max_counter"`
	} `yaml:"aura"`
	Template *struct {
		Shape            string  `yaml:"shape"`
		Distance         float64 `yaml:"distance"`
		Angle            float64 `yaml:"angle"`
		Width            float64 `yaml:"width"`
		InitialRange     float64 `yaml:"initial_range"`
		SustainMoveRange float64 `yaml:"sustain_move_range"`
	} `yaml:"template"`
	AllowMultiplePerTurn bool `yaml:"allow_multiple_per_turn"`
}

// Parse converts raw YAML into a validated Config. Unrecognized tags are
// configuration errors, reported loudly here rather than silently defaulted
// at call sites.
func Parse(raw []byte) (Config, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Config{}, fmt.Errorf("decode spell config: %w", err)
	}
	return file.toConfig()
}

func (f File) toConfig() (Config, error) {
	if strings.TrimSpace(f.Name) == "" {
		return Config{}, apperrors.New(apperrors.CodeSpellEmptyName, "spell config requires a name")
	}

	category, err := parseCategory(f.Category)
	if err != nil {
		return Config{}, err
	}

	targets, err := f.parseTargets()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Name:     f.Name,
		Category: category,
		Targets:  targets,
		Sustain: SustainingTemplate{
			Name:        f.Sustaining.Name,
			Description: f.Sustaining.Description,
			MaxRounds:   f.Sustaining.MaxRounds,
		},
		AllowMultiplePerTurn: f.AllowMultiplePerTurn,
	}
	if cfg.Sustain.Name == "" {
		cfg.Sustain.Name = "Sustaining: " + f.Name
	}

	cfg.Sustain.Duration, err = f.Sustaining.Duration.toDuration()
	if err != nil {
		return Config{}, err
	}

	for _, raw := range f.Effects {
		selector, err := parseSelector(raw.Target)
		if err != nil {
			return Config{}, err
		}
		duration, err := raw.Duration.toDuration()
		if err != nil {
			return Config{}, err
		}
		effectSlug := raw.Slug
		if effectSlug == "" {
			effectSlug = slug.Make(raw.Name)
		}
		// Self-aura casts also grant a generated badge record on the
		// caster; a child effect sharing its slug would shadow it.
		if category == game.CategorySelfAura && effectSlug == slug.AuraBadge(f.Name) {
			return Config{}, apperrors.New(apperrors.CodeSpellBadgeSlugCollision,
				fmt.Sprintf("spell %q: effect slug %q is reserved for the aura badge", f.Name, effectSlug))
		}
		cfg.Effects = append(cfg.Effects, EffectTemplate{
			Target:      selector,
			Name:        raw.Name,
			Slug:        effectSlug,
			Description: raw.Description,
			Duration:    duration,
		})
	}

	if f.Save != nil {
		save := SaveConfig{Type: f.Save.Type}
		for _, raw := range f.Save.ApplyOn {
			outcome, err := parseOutcome(raw)
			if err != nil {
				return Config{}, err
			}
			save.ApplyOn = append(save.ApplyOn, outcome)
		}
		cfg.Save = &save
	}
	if category == game.CategorySaveDependent {
		if cfg.Save == nil {
			cfg.Save = &SaveConfig{}
		}
		if len(cfg.Save.ApplyOn) == 0 {
			cfg.Save.ApplyOn = []chat.SaveOutcome{chat.OutcomeFailure, chat.OutcomeCriticalFailure}
		}
	}

	if f.Aura != nil {
		cfg.Aura = &AuraConfig{BaseSize: f.Aura.BaseSize, Increment: f.Aura.Increment, MaxCounter: f.Aura.MaxCounter}
	}
	if category == game.CategorySelfAura && cfg.Aura == nil {
		return Config{}, apperrors.New(apperrors.CodeSpellMissingAura,
			"self-aura spell requires aura parameters")
	}

	if f.Template != nil {
		shape, err := parseShape(f.Template.Shape)
		if err != nil {
			return Config{}, err
		}
		cfg.Template = &TemplateConfig{
			Spec: game.TemplateSpec{
				Shape:    shape,
				Distance: f.Template.Distance,
				Angle:    f.Template.Angle,
				Width:    f.Template.Width,
			},
			InitialRange:     f.Template.InitialRange,
			SustainMoveRange: f.Template.SustainMoveRange,
		}
	}
	if category == game.CategoryMeasuredTemplate && cfg.Template == nil {
		return Config{}, apperrors.New(apperrors.CodeSpellMissingTemplate,
			"measured-template spell requires template parameters")
	}

	return cfg, nil
}

func (f File) parseTargets() (TargetRequirement, error) {
	req := TargetRequirement{Count: f.Targets.Count}
	switch f.Targets.Type {
	case "", string(RequireNone):
		req.Type = RequireNone
	case string(RequireSelfOnly):
		req.Type = RequireSelfOnly
	case string(RequireExact):
		req.Type = RequireExact
	default:
		return TargetRequirement{}, apperrors.New(apperrors.CodeSpellUnknownTargetType,
			fmt.Sprintf("unknown target requirement type %q", f.Targets.Type))
	}

	relTotal := 0
	for _, raw := range f.Targets.Relations {
		rel, err := parseRelationship(raw.Relationship)
		if err != nil {
			return TargetRequirement{}, err
		}
		req.Relations = append(req.Relations, RelationCount{Relationship: rel, Count: raw.Count})
		relTotal += raw.Count
	}

	if req.Type == RequireExact {
		if len(req.Relations) > 0 && req.Count == 0 {
			req.Count = relTotal
		}
		if req.Count <= 0 {
			return TargetRequirement{}, apperrors.New(apperrors.CodeSpellTargetCountInvalid,
				"exact target requirement needs a positive count")
		}
		if len(req.Relations) > 0 && relTotal != req.Count {
			return TargetRequirement{}, apperrors.New(apperrors.CodeSpellTargetCountInvalid,
				fmt.Sprintf("relation counts sum to %d, want %d", relTotal, req.Count))
		}
	}
	return req, nil
}

type durationFile struct {
	Value int    `yaml:"value"`
	Unit  string `yaml:"unit"`
}

func (d durationFile) toDuration() (Duration, error) {
	if d.Value == 0 && d.Unit == "" {
		return Duration{}, nil
	}
	switch d.Unit {
	case "", string(UnitRounds):
		return Duration{Value: d.Value, Unit: UnitRounds}, nil
	case string(UnitMinutes):
		return Duration{Value: d.Value, Unit: UnitMinutes}, nil
	case string(UnitHours):
		return Duration{Value: d.Value, Unit: UnitHours}, nil
	case string(UnitDays):
		return Duration{Value: d.Value, Unit: UnitDays}, nil
	}
	return Duration{}, apperrors.New(apperrors.CodeSpellUnknownDuration,
		fmt.Sprintf("unknown duration unit %q", d.Unit))
}

func parseCategory(raw string) (game.Category, error) {
	switch raw {
	case string(game.CategorySaveDependent):
		return game.CategorySaveDependent, nil
	case string(game.CategoryImmediateEffects):
		return game.CategoryImmediateEffects, nil
	case string(game.CategorySelfAura):
		return game.CategorySelfAura, nil
	case string(game.CategoryMeasuredTemplate):
		return game.CategoryMeasuredTemplate, nil
	}
	return "", apperrors.New(apperrors.CodeSpellUnknownCategory,
		fmt.Sprintf("unknown spell category %q", raw))
}

func parseRelationship(raw string) (game.Relationship, error) {
	switch raw {
	case string(game.RelationshipAlly):
		return game.RelationshipAlly, nil
	case string(game.RelationshipEnemy):
		return game.RelationshipEnemy, nil
	case string(game.RelationshipNeutral):
		return game.RelationshipNeutral, nil
	}
	return "", apperrors.New(apperrors.CodeSpellUnknownRelation,
		fmt.Sprintf("unknown target relationship %q", raw))
}

func parseSelector(raw string) (Selector, error) {
	switch raw {
	case string(SelectSelf), string(SelectAlly), string(SelectEnemy), string(SelectNeutral), string(SelectAll):
		return Selector(raw), nil
	}
	return "", apperrors.New(apperrors.CodeSpellUnknownRelation,
		fmt.Sprintf("unknown effect target selector %q", raw))
}

func parseOutcome(raw string) (chat.SaveOutcome, error) {
	switch raw {
	case "critical-success", string(chat.OutcomeCriticalSuccess):
		return chat.OutcomeCriticalSuccess, nil
	case "success":
		return chat.OutcomeSuccess, nil
	case "failure":
		return chat.OutcomeFailure, nil
	case "critical-failure", string(chat.OutcomeCriticalFailure):
		return chat.OutcomeCriticalFailure, nil
	}
	return "", apperrors.New(apperrors.CodeSpellUnknownOutcome,
		fmt.Sprintf("unknown save outcome %q", raw))
}

func parseShape(raw string) (game.TemplateShape, error) {
	switch raw {
	case string(game.ShapeBurst), string(game.ShapeEmanation), string(game.ShapeCone), string(game.ShapeLine):
		return game.TemplateShape(raw), nil
	}
	return "", apperrors.New(apperrors.CodeSpellMissingTemplate,
		fmt.Sprintf("unknown template shape %q", raw))
}

// Dir is a Provider backed by a directory of YAML files, one per spell.
type Dir struct {
	configs map[string]Config
}

// LoadDir reads every *.yaml/*.yml file under path. A malformed file fails
// the whole load: spell configuration errors should surface at startup.
func LoadDir(path string) (*Dir, error) {
	return loadFS(os.DirFS(path))
}

func loadFS(fsys fs.FS) (*Dir, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read spell config dir: %w", err)
	}

	dir := &Dir{configs: make(map[string]Config)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read spell config %s: %w", name, err)
		}
		cfg, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("spell config %s: %w", name, err)
		}
		key := normalize(cfg.Name)
		if _, exists := dir.configs[key]; exists {
			return nil, fmt.Errorf("spell config %s: duplicate spell %q", name, cfg.Name)
		}
		dir.configs[key] = cfg
	}
	return dir, nil
}

// Lookup implements Provider.
func (d *Dir) Lookup(name string) (Config, bool) {
	cfg, ok := d.configs[normalize(name)]
	return cfg, ok
}

// Len reports how many spells are configured.
func (d *Dir) Len() int { return len(d.configs) }
