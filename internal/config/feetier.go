package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FeeTier overrides the number of terms a grade tier is billed for.
type FeeTier struct {
	Tier      string `mapstructure:"tier"`
	TermCount int    `mapstructure:"termCount"`
}

type FeeTierConfig struct {
	Tiers []FeeTier `mapstructure:"tiers"`
}

func DefaultFeeTierConfig() FeeTierConfig {
	return FeeTierConfig{
		Tiers: []FeeTier{
			{Tier: "pre-primary", TermCount: 2},
		},
	}
}

// FeeTierHolder serves the current tier table; it is swapped atomically on reload.
type FeeTierHolder struct {
	current atomic.Value // holds map[string]int
}

func NewFeeTierHolder(cfg Config) (*FeeTierHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.Ledger.FeeTierConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("feetiers")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/bursar")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BURSAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fromFile = false
	}

	tierCfg := DefaultFeeTierConfig()
	if fromFile {
		tierCfg = FeeTierConfig{}
		if err := v.UnmarshalKey("feeTiers", &tierCfg); err != nil {
			return nil, err
		}
	}

	table, err := buildTierTable(tierCfg)
	if err != nil {
		return nil, err
	}

	holder := &FeeTierHolder{}
	holder.current.Store(table)

	if fromFile {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated FeeTierConfig
			if err := v.UnmarshalKey("feeTiers", &updated); err != nil {
				zap.L().Warn("fee tier config reload failed", zap.Error(err))
				return
			}
			next, err := buildTierTable(updated)
			if err != nil {
				zap.L().Warn("invalid fee tier config ignored", zap.Error(err))
				return
			}
			holder.current.Store(next)
			zap.L().Info("fee tier config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticFeeTierHolder builds a holder that never reloads.
func NewStaticFeeTierHolder(cfg FeeTierConfig) (*FeeTierHolder, error) {
	table, err := buildTierTable(cfg)
	if err != nil {
		return nil, err
	}
	holder := &FeeTierHolder{}
	holder.current.Store(table)
	return holder, nil
}

// TermCount returns the configured term count for a grade tier.
func (h *FeeTierHolder) TermCount(tier string) (int, bool) {
	if h == nil {
		return 0, false
	}
	table, _ := h.current.Load().(map[string]int)
	count, ok := table[TierKey(tier)]
	return count, ok
}

// TierKey normalizes a human tier label ("Pre Primary", "PRE-PRIMARY") into its table key.
func TierKey(tier string) string {
	return slug.Make(strings.TrimSpace(tier))
}

func buildTierTable(cfg FeeTierConfig) (map[string]int, error) {
	table := make(map[string]int, len(cfg.Tiers))
	for _, tier := range cfg.Tiers {
		key := TierKey(tier.Tier)
		if key == "" {
			return nil, errors.New("feeTiers.tiers[].tier cannot be empty")
		}
		if tier.TermCount <= 0 {
			return nil, fmt.Errorf("feeTiers tier %q must have a positive termCount", tier.Tier)
		}
		if _, exists := table[key]; exists {
			return nil, fmt.Errorf("feeTiers tier %q is declared twice", tier.Tier)
		}
		table[key] = tier.TermCount
	}
	return table, nil
}
