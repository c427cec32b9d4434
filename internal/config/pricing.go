package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Pricing is the commercial catalog loaded once at start and passed to the
// components that price or split money.
type Pricing struct {
	PlanPrices     map[string]decimal.Decimal
	PlanPeriod     time.Duration
	CommissionRate decimal.Decimal
	MinimumPayout  decimal.Decimal
	HoldTTL        time.Duration
	PushCooldown   time.Duration
}

// LoadPricing reads the catalog from an optional YAML file, with PRICING_*
// environment overrides for scalar keys. An empty path yields the defaults.
func LoadPricing(path string) (Pricing, error) {
	v := viper.New()
	v.SetDefault("plans", map[string]string{
		"starter": "1500",
		"lite":    "5000",
		"pro":     "12000",
	})
	v.SetDefault("plan_period", "720h")
	v.SetDefault("commission_rate", "0.10")
	v.SetDefault("minimum_payout", "500")
	v.SetDefault("hold_ttl", "15m")
	v.SetDefault("push_cooldown", "60s")

	v.SetEnvPrefix("PRICING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Pricing{}, fmt.Errorf("read pricing file: %w", err)
		}
	}

	p := Pricing{PlanPrices: make(map[string]decimal.Decimal)}
	for code, raw := range v.GetStringMapString("plans") {
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return Pricing{}, fmt.Errorf("plan %s: invalid price %q", code, raw)
		}
		if !price.IsPositive() {
			return Pricing{}, fmt.Errorf("plan %s: price must be > 0", code)
		}
		p.PlanPrices[strings.ToUpper(code)] = price.Round(2)
	}
	if len(p.PlanPrices) == 0 {
		return Pricing{}, errors.New("pricing: no plans configured")
	}

	var err error
	if p.CommissionRate, err = decimal.NewFromString(v.GetString("commission_rate")); err != nil {
		return Pricing{}, fmt.Errorf("commission_rate: %w", err)
	}
	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Pricing{}, errors.New("commission_rate must be in [0, 1)")
	}
	if p.MinimumPayout, err = decimal.NewFromString(v.GetString("minimum_payout")); err != nil {
		return Pricing{}, fmt.Errorf("minimum_payout: %w", err)
	}

	p.PlanPeriod = v.GetDuration("plan_period")
	p.HoldTTL = v.GetDuration("hold_ttl")
	p.PushCooldown = v.GetDuration("push_cooldown")
	if p.PlanPeriod <= 0 {
		return Pricing{}, errors.New("plan_period must be > 0")
	}

	return p, nil
}

// PlanPrice returns the price of a plan code, case-insensitive.
func (p Pricing) PlanPrice(code string) (decimal.Decimal, bool) {
	price, ok := p.PlanPrices[strings.ToUpper(strings.TrimSpace(code))]
	return price, ok
}

// PlanCodes returns the configured plan codes ordered by price.
func (p Pricing) PlanCodes() []string {
	codes := make([]string, 0, len(p.PlanPrices))
	for code := range p.PlanPrices {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		return p.PlanPrices[codes[i]].LessThan(p.PlanPrices[codes[j]])
	})
	return codes
}
