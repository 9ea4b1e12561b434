package domain

import (
	"fmt"
	"strings"
	"time"
)

// TradeMode selects which broker endpoint owns in-flight risk.
type TradeMode string

const (
	ModePaper TradeMode = "paper"
	ModeLive  TradeMode = "live"
)

// BotState is the run mode of the trading loop.
type BotState string

const (
	StateStopped BotState = "stopped"
	StateRunning BotState = "running"
	StatePaused  BotState = "paused"
)

// BotConfig is the persisted singleton trading configuration. Exactly one
// live row exists; updates are partial patches applied by the bot state
// machine, never wholesale replacement.
type BotConfig struct {
	Mode  TradeMode
	State BotState

	EnabledTiers []int // Catalyst tiers admitted by the gauntlet

	// Position sizing in notional dollars, keyed by star rating (3-5).
	PositionSizing map[int]float64

	// Risk limits.
	MaxConcurrentPositions int
	DailyLossLimitUSD      float64
	MaxFloatShares         float64
	MaxSharePrice          float64
	MinRelativeVolume      float64

	// Exit parameters, percentages as fractions (0.07 = 7%).
	HardStopPct     float64
	ProfitTargetPct float64
	TrailingStopPct float64
	TrailingStopUSD float64
	MaxHoldSeconds  int

	// Minimum acceptable historical win rate for the gauntlet gate.
	MinWinRate float64

	UpdatedAt time.Time
}

// DefaultBotConfig is the row created on first start.
func DefaultBotConfig() *BotConfig {
	return &BotConfig{
		Mode:         ModePaper,
		State:        StateStopped,
		EnabledTiers: []int{1, 2},
		PositionSizing: map[int]float64{
			3: 500,
			4: 1000,
			5: 2000,
		},
		MaxConcurrentPositions: 3,
		DailyLossLimitUSD:      500,
		MaxFloatShares:         50_000_000,
		MaxSharePrice:          20,
		MinRelativeVolume:      5,
		HardStopPct:            0.07,
		ProfitTargetPct:        0.10,
		TrailingStopPct:        0.03,
		TrailingStopUSD:        0,
		MaxHoldSeconds:         300,
		MinWinRate:             0.40,
	}
}

// TierEnabled reports whether the gauntlet admits the given tier.
func (c *BotConfig) TierEnabled(tier int) bool {
	for _, t := range c.EnabledTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Validate checks bounds on the fields a patch may have touched.
func (c *BotConfig) Validate() error {
	var errs []string
	if c.Mode != ModePaper && c.Mode != ModeLive {
		errs = append(errs, fmt.Sprintf("invalid mode %q", c.Mode))
	}
	for star, size := range c.PositionSizing {
		if star < 3 || star > 5 {
			errs = append(errs, fmt.Sprintf("position sizing star %d out of range 3-5", star))
		}
		if size <= 0 {
			errs = append(errs, fmt.Sprintf("position sizing for %d stars must be positive", star))
		}
	}
	for _, t := range c.EnabledTiers {
		if t < TierHighest || t > TierLowest {
			errs = append(errs, fmt.Sprintf("enabled tier %d out of range %d-%d", t, TierHighest, TierLowest))
		}
	}
	if c.MaxConcurrentPositions <= 0 {
		errs = append(errs, "max concurrent positions must be positive")
	}
	if c.HardStopPct <= 0 || c.HardStopPct >= 1 {
		errs = append(errs, "hard stop must be between 0 and 1 (exclusive)")
	}
	if c.ProfitTargetPct <= 0 {
		errs = append(errs, "profit target must be positive")
	}
	if c.TrailingStopPct < 0 || c.TrailingStopUSD < 0 {
		errs = append(errs, "trailing stop values cannot be negative")
	}
	if c.MaxHoldSeconds <= 0 {
		errs = append(errs, "max hold seconds must be positive")
	}
	if c.MinWinRate < 0 || c.MinWinRate > 1 {
		errs = append(errs, "min win rate must be within [0,1]")
	}
	if c.MaxSharePrice <= 0 {
		errs = append(errs, "max share price must be positive")
	}
	if c.MinRelativeVolume < 0 {
		errs = append(errs, "min relative volume cannot be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BotConfigPatch carries the fields a config update wants to change. Nil
// fields are left untouched.
type BotConfigPatch struct {
	EnabledTiers           *[]int
	PositionSizing         *map[int]float64
	MaxConcurrentPositions *int
	DailyLossLimitUSD      *float64
	MaxFloatShares         *float64
	MaxSharePrice          *float64
	MinRelativeVolume      *float64
	HardStopPct            *float64
	ProfitTargetPct        *float64
	TrailingStopPct        *float64
	TrailingStopUSD        *float64
	MaxHoldSeconds         *int
	MinWinRate             *float64
}

// Apply copies the patched fields onto the config.
func (p *BotConfigPatch) Apply(c *BotConfig) {
	if p.EnabledTiers != nil {
		c.EnabledTiers = append([]int(nil), (*p.EnabledTiers)...)
	}
	if p.PositionSizing != nil {
		sizing := make(map[int]float64, len(*p.PositionSizing))
		for k, v := range *p.PositionSizing {
			sizing[k] = v
		}
		c.PositionSizing = sizing
	}
	if p.MaxConcurrentPositions != nil {
		c.MaxConcurrentPositions = *p.MaxConcurrentPositions
	}
	if p.DailyLossLimitUSD != nil {
		c.DailyLossLimitUSD = *p.DailyLossLimitUSD
	}
	if p.MaxFloatShares != nil {
		c.MaxFloatShares = *p.MaxFloatShares
	}
	if p.MaxSharePrice != nil {
		c.MaxSharePrice = *p.MaxSharePrice
	}
	if p.MinRelativeVolume != nil {
		c.MinRelativeVolume = *p.MinRelativeVolume
	}
	if p.HardStopPct != nil {
		c.HardStopPct = *p.HardStopPct
	}
	if p.ProfitTargetPct != nil {
		c.ProfitTargetPct = *p.ProfitTargetPct
	}
	if p.TrailingStopPct != nil {
		c.TrailingStopPct = *p.TrailingStopPct
	}
	if p.TrailingStopUSD != nil {
		c.TrailingStopUSD = *p.TrailingStopUSD
	}
	if p.MaxHoldSeconds != nil {
		c.MaxHoldSeconds = *p.MaxHoldSeconds
	}
	if p.MinWinRate != nil {
		c.MinWinRate = *p.MinWinRate
	}
}

// Clone returns a deep copy so readers never share the owner's maps/slices.
func (c *BotConfig) Clone() *BotConfig {
	cp := *c
	cp.EnabledTiers = append([]int(nil), c.EnabledTiers...)
	cp.PositionSizing = make(map[int]float64, len(c.PositionSizing))
	for k, v := range c.PositionSizing {
		cp.PositionSizing[k] = v
	}
	return &cp
}
