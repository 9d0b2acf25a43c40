/*
Package points converts purchase amounts into loyalty points.

PURPOSE:
  Every tenant owns a points configuration stored as an opaque JSON blob.
  This file defines the schema of that blob, how it is validated when a
  partner writes it, and how it is parsed back when a purchase is recorded.

JSON SCHEMA:
  {
    "basePointsPerUnit": 1,
    "minimumSpend": 5,
    "tiers": [
      {"minAmount": 0,  "maxAmount": 50, "pointsPerUnit": 10},
      {"minAmount": 50, "pointsPerUnit": 12}
    ],
    "bonusRules": [
      {"type": "DAY_OF_WEEK", "name": "Double Tuesday", "multiplier": 2, "days": ["TUESDAY"]},
      {"type": "DATE_RANGE", "multiplier": 1.5, "startDate": "2025-12-01", "endDate": "2025-12-24"},
      {"type": "MINIMUM_SPEND", "multiplier": 1.2, "minAmount": 100},
      {"type": "BANK_HOLIDAY", "multiplier": 3}
    ],
    "combinationMode": "multiplicative",
    "roundingRule": "nearest_smallest_unit",
    "roundPointsUp": false,
    "bankHolidays": ["2025-12-25"],
    "bankHolidayBonus": 0,
    "maxPointsPerTransaction": 10000,
    "timezone": "Europe/London"
  }

TWO READ PATHS:
  ParseConfig is strict: used on write, returns every field error.
  LoadConfig is lenient: used on the calculation path, never fails and
  falls back to DefaultConfig when the stored blob is unusable.

SEE ALSO:
  - calculator.go: Calculate()
  - api/handlers.go: GET/PUT points-config
*/
package points

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// =============================================================================
// SCHEMA
// =============================================================================

// RoundingRule is the currency granularity a purchase amount is rounded to
// before a tier is selected.
type RoundingRule string

const (
	RoundNearestSmallestUnit RoundingRule = "nearest_smallest_unit"
	RoundNearest5            RoundingRule = "nearest_5"
	RoundNearest10           RoundingRule = "nearest_10"
	RoundNearestWhole        RoundingRule = "nearest_whole"
)

// Granularity returns the step the amount is rounded to.
func (r RoundingRule) Granularity() decimal.Decimal {
	switch r {
	case RoundNearest5:
		return decimal.New(5, -2)
	case RoundNearest10:
		return decimal.New(10, -2)
	case RoundNearestWhole:
		return decimal.NewFromInt(1)
	default:
		return decimal.New(1, -2)
	}
}

// CombinationMode decides how several matching bonus multipliers combine.
type CombinationMode string

const (
	CombineMultiplicative CombinationMode = "multiplicative"
	CombineAdditive       CombinationMode = "additive"
	CombineHighestOnly    CombinationMode = "highest_only"
)

// BonusRuleType tags the variant of a BonusRule.
type BonusRuleType string

const (
	BonusDayOfWeek    BonusRuleType = "DAY_OF_WEEK"
	BonusDateRange    BonusRuleType = "DATE_RANGE"
	BonusMinimumSpend BonusRuleType = "MINIMUM_SPEND"
	BonusBankHoliday  BonusRuleType = "BANK_HOLIDAY"
)

const dateLayout = "2006-01-02"

// Tier is an amount range [MinAmount, MaxAmount) with its own earn rate.
// A nil MaxAmount means the tier is unbounded; only the last tier may omit it.
type Tier struct {
	MinAmount     decimal.Decimal  `json:"minAmount"`
	MaxAmount     *decimal.Decimal `json:"maxAmount,omitempty"`
	PointsPerUnit decimal.Decimal  `json:"pointsPerUnit"`
}

// Contains reports whether amount falls inside the tier.
func (t Tier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinAmount) {
		return false
	}
	return t.MaxAmount == nil || amount.LessThan(*t.MaxAmount)
}

// BonusRule is a conditional multiplier. Which condition fields are read
// depends on Type:
//
//	DAY_OF_WEEK   Days (e.g. "MONDAY")
//	DATE_RANGE    StartDate, EndDate (inclusive, YYYY-MM-DD)
//	MINIMUM_SPEND MinAmount
//	BANK_HOLIDAY  none, matches Config.BankHolidays
type BonusRule struct {
	Type       BonusRuleType    `json:"type" validate:"required,oneof=DAY_OF_WEEK DATE_RANGE MINIMUM_SPEND BANK_HOLIDAY"`
	Name       string           `json:"name,omitempty" validate:"max=100"`
	Multiplier decimal.Decimal  `json:"multiplier"`
	Days       []string         `json:"days,omitempty" validate:"dive,oneof=MONDAY TUESDAY WEDNESDAY THURSDAY FRIDAY SATURDAY SUNDAY"`
	StartDate  string           `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string           `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	MinAmount  *decimal.Decimal `json:"minAmount,omitempty"`
}

// Label is the name shown in previews.
func (r BonusRule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return string(r.Type)
}

// Config is a tenant's points configuration.
type Config struct {
	BasePointsPerUnit       decimal.Decimal `json:"basePointsPerUnit"`
	MinimumSpend            decimal.Decimal `json:"minimumSpend"`
	Tiers                   []Tier          `json:"tiers"`
	BonusRules              []BonusRule     `json:"bonusRules" validate:"dive"`
	CombinationMode         CombinationMode `json:"combinationMode" validate:"omitempty,oneof=multiplicative additive highest_only"`
	RoundingRule            RoundingRule    `json:"roundingRule" validate:"omitempty,oneof=nearest_smallest_unit nearest_5 nearest_10 nearest_whole"`
	RoundPointsUp           bool            `json:"roundPointsUp"`
	BankHolidays            []string        `json:"bankHolidays,omitempty" validate:"dive,datetime=2006-01-02"`
	BankHolidayBonus        decimal.Decimal `json:"bankHolidayBonus"`
	MaxPointsPerTransaction *int64          `json:"maxPointsPerTransaction,omitempty" validate:"omitempty,gt=0"`
	Timezone                string          `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// DefaultConfig is the system configuration: one point per currency unit,
// no tiers, no bonuses.
func DefaultConfig() Config {
	return Config{
		BasePointsPerUnit: decimal.NewFromInt(1),
		MinimumSpend:      decimal.Zero,
		Tiers:             []Tier{},
		BonusRules:        []BonusRule{},
		CombinationMode:   CombineMultiplicative,
		RoundingRule:      RoundNearestSmallestUnit,
		BankHolidayBonus:  decimal.Zero,
	}
}

// Location resolves the configured timezone, UTC when unset or unknown.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// JSON returns the canonical blob stored for the tenant.
func (c Config) JSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// PARSING
// =============================================================================

// ParseConfig decodes, normalizes and validates a configuration blob.
// Used when a partner writes a new configuration.
func ParseConfig(blob string) (Config, error) {
	if strings.TrimSpace(blob) == "" {
		return Config{}, &ValidationError{Fields: []FieldError{{Field: "config", Message: "is empty"}}}
	}
	if !gjson.Valid(blob) {
		return Config{}, &ValidationError{Fields: []FieldError{{Field: "config", Message: "is not valid JSON"}}}
	}

	var cfg Config
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return Config{}, &ValidationError{Fields: []FieldError{{Field: "config", Message: err.Error()}}}
	}
	applyDefaults(&cfg, blob)
	normalize(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig parses a stored blob for calculation. It never fails: a blob
// that is empty, malformed or no longer valid yields DefaultConfig.
func LoadConfig(blob string) Config {
	cfg, err := ParseConfig(blob)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// applyDefaults fills fields the blob left out. Presence is checked on the
// raw JSON so an explicit zero is kept.
func applyDefaults(cfg *Config, blob string) {
	def := DefaultConfig()
	if !gjson.Get(blob, "basePointsPerUnit").Exists() {
		cfg.BasePointsPerUnit = def.BasePointsPerUnit
	}
	if cfg.Tiers == nil {
		cfg.Tiers = []Tier{}
	}
	if cfg.BonusRules == nil {
		cfg.BonusRules = []BonusRule{}
	}
	if cfg.CombinationMode == "" {
		cfg.CombinationMode = def.CombinationMode
	}
	if cfg.RoundingRule == "" {
		cfg.RoundingRule = def.RoundingRule
	}
}

func normalize(cfg *Config) {
	cfg.CombinationMode = CombinationMode(strings.ToLower(string(cfg.CombinationMode)))
	cfg.RoundingRule = RoundingRule(strings.ToLower(strings.ReplaceAll(string(cfg.RoundingRule), "-", "_")))
	for i := range cfg.BonusRules {
		r := &cfg.BonusRules[i]
		r.Type = BonusRuleType(strings.ToUpper(string(r.Type)))
		for j, d := range r.Days {
			r.Days[j] = strings.ToUpper(strings.TrimSpace(d))
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// FieldError is one invalid field, addressed by its JSON path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a configuration is rejected on write.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "invalid points configuration: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a configuration. Tag-level checks come from the struct
// tags; the numeric and structural rules (tier ordering, multipliers,
// per-variant required fields) are checked here.
func Validate(cfg Config) error {
	verr := &ValidationError{}

	if err := validate.Struct(cfg); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return err
		}
		for _, fe := range ves {
			verr.add(strings.TrimPrefix(fe.Namespace(), "Config."), "failed %q validation", fe.Tag())
		}
	}

	if cfg.BasePointsPerUnit.IsNegative() {
		verr.add("basePointsPerUnit", "must be >= 0")
	}
	if cfg.MinimumSpend.IsNegative() {
		verr.add("minimumSpend", "must be >= 0")
	}
	if cfg.BankHolidayBonus.IsNegative() {
		verr.add("bankHolidayBonus", "must be >= 0")
	}
	validateTiers(cfg.Tiers, verr)
	for i, r := range cfg.BonusRules {
		validateRule(fmt.Sprintf("bonusRules[%d]", i), r, verr)
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// validateTiers enforces ascending, non-overlapping ranges with only the
// last tier unbounded.
func validateTiers(tiers []Tier, verr *ValidationError) {
	for i, t := range tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if t.MinAmount.IsNegative() {
			verr.add(field+".minAmount", "must be >= 0")
		}
		if t.PointsPerUnit.IsNegative() {
			verr.add(field+".pointsPerUnit", "must be >= 0")
		}
		if t.MaxAmount == nil {
			if i != len(tiers)-1 {
				verr.add(field+".maxAmount", "is required on every tier but the last")
			}
		} else if !t.MaxAmount.GreaterThan(t.MinAmount) {
			verr.add(field+".maxAmount", "must be greater than minAmount")
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.MinAmount.LessThanOrEqual(prev.MinAmount) {
			verr.add(field+".minAmount", "tiers must be in ascending order")
		}
		if prev.MaxAmount != nil && t.MinAmount.LessThan(*prev.MaxAmount) {
			verr.add(field+".minAmount", "overlaps tiers[%d]", i-1)
		}
	}
}

func validateRule(field string, r BonusRule, verr *ValidationError) {
	if !r.Multiplier.IsPositive() {
		verr.add(field+".multiplier", "must be > 0")
	}
	switch r.Type {
	case BonusDayOfWeek:
		if len(r.Days) == 0 {
			verr.add(field+".days", "is required for DAY_OF_WEEK rules")
		}
	case BonusDateRange:
		if r.StartDate == "" || r.EndDate == "" {
			verr.add(field, "startDate and endDate are required for DATE_RANGE rules")
		} else if r.EndDate < r.StartDate {
			verr.add(field+".endDate", "must not be before startDate")
		}
	case BonusMinimumSpend:
		if r.MinAmount == nil {
			verr.add(field+".minAmount", "is required for MINIMUM_SPEND rules")
		} else if r.MinAmount.IsNegative() {
			verr.add(field+".minAmount", "must be >= 0")
		}
	}
}
