// Package segment selects which roster slice a broadcast goes to.
package segment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/directory"
)

// Kind identifies the selection rule.
type Kind int

const (
	KindAll Kind = iota
	// KindOdd and KindEven split by the parity of the recipient's chat ID.
	KindOdd
	KindEven
	// KindNewest and KindOldest cut the roster at now minus Window.
	KindNewest
	KindOldest
	// KindLimit takes the first Limit recipients in registration order.
	KindLimit
)

func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindOdd:
		return "odd"
	case KindEven:
		return "even"
	case KindNewest:
		return "newest"
	case KindOldest:
		return "oldest"
	case KindLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// Spec is a fully parameterized segment choice.
type Spec struct {
	Kind   Kind
	Window time.Duration // KindNewest, KindOldest
	Limit  int           // KindLimit
}

// Describe renders the spec for operator-facing confirmation text.
func (s Spec) Describe() string {
	switch s.Kind {
	case KindOdd:
		return "recipients with odd IDs"
	case KindEven:
		return "recipients with even IDs"
	case KindNewest:
		return "joined within " + FormatWindow(s.Window)
	case KindOldest:
		return "joined more than " + FormatWindow(s.Window) + " ago"
	case KindLimit:
		return "first " + strconv.Itoa(s.Limit) + " recipients"
	default:
		return "all recipients"
	}
}

// ValidationError reports operator input that cannot form a segment.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid segment %q: %s", e.Input, e.Reason)
}

const (
	day  = 24 * time.Hour
	week = 7 * day
	// Calendar month and year approximations; the roster cut does not
	// need calendar precision.
	month = 30 * day
	year  = 365 * day
)

// ParseWindow accepts "<n><unit>" where unit is d, w, m or y.
func ParseWindow(input string) (time.Duration, error) {
	raw := strings.ToLower(strings.TrimSpace(input))
	if len(raw) < 2 {
		return 0, &ValidationError{Input: input, Reason: "expected a number followed by d, w, m or y"}
	}
	numPart, unit := raw[:len(raw)-1], raw[len(raw)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return 0, &ValidationError{Input: input, Reason: "count must be a positive number"}
	}
	switch unit {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * week, nil
	case 'm':
		return time.Duration(n) * month, nil
	case 'y':
		return time.Duration(n) * year, nil
	default:
		return 0, &ValidationError{Input: input, Reason: "unit must be d, w, m or y"}
	}
}

// FormatWindow is the inverse of ParseWindow for whole units.
func FormatWindow(d time.Duration) string {
	switch {
	case d >= year && d%year == 0:
		return strconv.Itoa(int(d/year)) + "y"
	case d >= month && d%month == 0:
		return strconv.Itoa(int(d/month)) + "m"
	case d >= week && d%week == 0:
		return strconv.Itoa(int(d/week)) + "w"
	default:
		return strconv.Itoa(int(d/day)) + "d"
	}
}

// Roster is the directory surface Resolve needs.
type Roster interface {
	FindAll(ctx context.Context, f directory.Filter) ([]directory.Recipient, error)
}

// Resolve materializes the spec against the roster as an ordered list of
// chat IDs. Registration order is kept stable and no ID repeats; an empty
// match is an empty slice, not an error.
func Resolve(ctx context.Context, roster Roster, s Spec, now time.Time) ([]int64, error) {
	var f directory.Filter
	switch s.Kind {
	case KindAll:
	case KindOdd, KindEven:
	case KindNewest:
		if s.Window <= 0 {
			return nil, &ValidationError{Input: s.Kind.String(), Reason: "window is required"}
		}
		f.JoinedAfter = now.Add(-s.Window)
	case KindOldest:
		if s.Window <= 0 {
			return nil, &ValidationError{Input: s.Kind.String(), Reason: "window is required"}
		}
		f.JoinedBefore = now.Add(-s.Window)
	case KindLimit:
		if s.Limit <= 0 {
			return nil, &ValidationError{Input: s.Kind.String(), Reason: "limit must be positive"}
		}
		f.Limit = s.Limit
	default:
		return nil, &ValidationError{Input: s.Kind.String(), Reason: "unknown segment kind"}
	}

	all, err := roster.FindAll(ctx, f)
	if err != nil {
		return nil, err
	}

	switch s.Kind {
	case KindOdd:
		all = byParity(all, false)
	case KindEven:
		all = byParity(all, true)
	}

	ids := make([]int64, 0, len(all))
	seen := make(map[int64]struct{}, len(all))
	for _, r := range all {
		if _, dup := seen[r.UserID]; dup {
			continue
		}
		seen[r.UserID] = struct{}{}
		ids = append(ids, r.UserID)
	}
	return ids, nil
}

// byParity keeps entries whose chat ID is even (or odd), preserving
// roster order.
func byParity(in []directory.Recipient, even bool) []directory.Recipient {
	out := in[:0]
	for _, r := range in {
		if (r.UserID%2 == 0) == even {
			out = append(out, r)
		}
	}
	return out
}
