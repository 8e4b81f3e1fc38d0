package strategy

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/colloquy/colloquy/internal/discussion/models"
)

//go:embed presets.yaml
var presetsYAML []byte

type presetFile struct {
	Presets map[string]presetEntry `yaml:"presets"`
}

type presetEntry struct {
	TurnTimeoutSeconds int     `yaml:"turn_timeout_seconds"`
	MaxMessagesPerTurn int     `yaml:"max_messages_per_turn"`
	CooldownSeconds    int     `yaml:"cooldown_seconds"`
	RequireApproval    bool    `yaml:"require_approval"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	EngagementThresh   float64 `yaml:"engagement_threshold"`
}

// LoadPresets parses the embedded per-strategy default configurations.
func LoadPresets() (map[models.StrategyType]models.StrategyConfig, error) {
	var file presetFile
	if err := yaml.Unmarshal(presetsYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strategy presets: %w", err)
	}
	presets := make(map[models.StrategyType]models.StrategyConfig, len(file.Presets))
	for name, entry := range file.Presets {
		presets[models.StrategyType(name)] = models.StrategyConfig{
			TurnTimeoutSeconds: entry.TurnTimeoutSeconds,
			MaxMessagesPerTurn: entry.MaxMessagesPerTurn,
			CooldownSeconds:    entry.CooldownSeconds,
			RequireApproval:    entry.RequireApproval,
			RelevanceThreshold: entry.RelevanceThreshold,
			EngagementThresh:   entry.EngagementThresh,
		}
	}
	return presets, nil
}

// PresetFor returns the built-in default configuration for a strategy type.
// Unknown types get the round-robin preset.
func PresetFor(t models.StrategyType) models.StrategyConfig {
	presets, err := LoadPresets()
	if err != nil {
		return models.StrategyConfig{}
	}
	if cfg, ok := presets[t]; ok {
		return cfg
	}
	return presets[models.StrategyRoundRobin]
}
