package actionqueue

import (
	"fmt"
	"strings"
)

// Priority is the delivery tier of a queued entry. Lower values are delivered first.
type Priority int16

const (
	// PriorityHigh is for actions with user-visible side effects (rewards, purchases).
	PriorityHigh Priority = 0
	// PriorityMedium is for profile and settings updates.
	PriorityMedium Priority = 1
	// PriorityLow is for best-effort traffic such as analytics.
	PriorityLow Priority = 2
)

// Rank returns the numeric ordering rank (High=0, Medium=1, Low=2).
func (p Priority) Rank() int {
	return int(p)
}

// Valid reports whether p is one of the defined tiers.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// String returns the lowercase tier name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int16(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int16(p))
	}

	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed

	return nil
}

// ParsePriority parses a tier name (case-insensitive).
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, value)
	}
}

// PriorityFunc maps an action kind to its delivery tier.
type PriorityFunc func(kind string) Priority

// Priorities is a static kind-to-tier table with a fallback for unknown kinds.
type Priorities struct {
	Kinds    map[string]Priority
	Fallback Priority
}

// DefaultPriorities returns the built-in table for the standard action kinds.
func DefaultPriorities() Priorities {
	return Priorities{
		Kinds: map[string]Priority{
			KindCompleteQuest: PriorityHigh,
			KindPurchaseItem:  PriorityHigh,
			KindClaimReward:   PriorityHigh,
			KindUpdateProfile: PriorityMedium,
			KindSaveSettings:  PriorityMedium,
			KindLogAnalytics:  PriorityLow,
		},
		Fallback: PriorityMedium,
	}
}

// Of returns the tier for kind.
func (p Priorities) Of(kind string) Priority {
	if tier, ok := p.Kinds[kind]; ok {
		return tier
	}

	return p.Fallback
}

// Func adapts the table to a PriorityFunc.
func (p Priorities) Func() PriorityFunc {
	return p.Of
}
