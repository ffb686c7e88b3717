package segment

import (
	"context"
	"errors"
	"testing"
	"time"

	"relaybot/internal/directory"
)

func TestParseWindowVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "2d", want: 48 * time.Hour},
		{raw: "3w", want: 3 * 7 * 24 * time.Hour},
		{raw: "6m", want: 6 * 30 * 24 * time.Hour},
		{raw: "1y", want: 365 * 24 * time.Hour},
		{raw: " 10D ", want: 240 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseWindow(tt.raw)
			if err != nil {
				t.Fatalf("ParseWindow(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseWindow(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseWindowInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "d", "0d", "-3w", "12h", "2.5d", "abc"} {
		_, err := ParseWindow(raw)
		if err == nil {
			t.Fatalf("ParseWindow(%q): expected error", raw)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("ParseWindow(%q): error type %T, want *ValidationError", raw, err)
		}
	}
}

func TestFormatWindowRoundTrip(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"1d", "14d", "2w", "3m", "1y"} {
		d, err := ParseWindow(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got := FormatWindow(d); got != raw {
			t.Fatalf("FormatWindow(ParseWindow(%q)) = %q", raw, got)
		}
	}
}

type fakeRoster struct {
	all  []directory.Recipient
	gotF directory.Filter
}

func (f *fakeRoster) FindAll(_ context.Context, flt directory.Filter) ([]directory.Recipient, error) {
	f.gotF = flt
	out := f.all
	if flt.Limit > 0 && flt.Limit < len(out) {
		out = out[:flt.Limit]
	}
	return append([]directory.Recipient(nil), out...), nil
}

func rosterOf(ids ...int64) []directory.Recipient {
	out := make([]directory.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, directory.Recipient{UserID: id})
	}
	return out
}

func TestResolveParity(t *testing.T) {
	t.Parallel()
	now := time.Now()

	// Registration order deliberately does not follow ID parity: all the
	// even IDs joined before the odd ones.
	ids := make([]int64, 0, 20)
	for id := int64(2); id <= 20; id += 2 {
		ids = append(ids, id)
	}
	for id := int64(1); id <= 19; id += 2 {
		ids = append(ids, id)
	}
	roster := &fakeRoster{all: rosterOf(ids...)}

	even, err := Resolve(context.Background(), roster, Spec{Kind: KindEven}, now)
	if err != nil {
		t.Fatalf("resolve even: %v", err)
	}
	wantEven := []int64{2, 4, 6, 8, 10, 12, 14, 16, 18, 20}
	if len(even) != len(wantEven) {
		t.Fatalf("even segment = %v, want %v", even, wantEven)
	}
	for i, id := range wantEven {
		if even[i] != id {
			t.Fatalf("even segment = %v, want %v", even, wantEven)
		}
	}

	odd, err := Resolve(context.Background(), roster, Spec{Kind: KindOdd}, now)
	if err != nil {
		t.Fatalf("resolve odd: %v", err)
	}
	wantOdd := []int64{1, 3, 5, 7, 9, 11, 13, 15, 17, 19}
	if len(odd) != len(wantOdd) {
		t.Fatalf("odd segment = %v, want %v", odd, wantOdd)
	}
	for i, id := range wantOdd {
		if odd[i] != id {
			t.Fatalf("odd segment = %v, want %v", odd, wantOdd)
		}
	}
}

func TestResolveWindowsSetFilter(t *testing.T) {
	t.Parallel()
	roster := &fakeRoster{all: rosterOf(1)}
	now := time.Now()

	if _, err := Resolve(context.Background(), roster, Spec{Kind: KindNewest, Window: 48 * time.Hour}, now); err != nil {
		t.Fatalf("resolve newest: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !roster.gotF.JoinedAfter.Equal(want) || !roster.gotF.JoinedBefore.IsZero() {
		t.Fatalf("newest filter wrong: %+v", roster.gotF)
	}

	if _, err := Resolve(context.Background(), roster, Spec{Kind: KindOldest, Window: 48 * time.Hour}, now); err != nil {
		t.Fatalf("resolve oldest: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !roster.gotF.JoinedBefore.Equal(want) || !roster.gotF.JoinedAfter.IsZero() {
		t.Fatalf("oldest filter wrong: %+v", roster.gotF)
	}
}

func TestResolveValidation(t *testing.T) {
	t.Parallel()
	roster := &fakeRoster{all: rosterOf(1)}
	for _, s := range []Spec{
		{Kind: KindNewest},
		{Kind: KindOldest},
		{Kind: KindLimit},
		{Kind: KindLimit, Limit: -2},
		{Kind: Kind(99)},
	} {
		if _, err := Resolve(context.Background(), roster, s, time.Now()); err == nil {
			t.Fatalf("Resolve(%+v): expected validation error", s)
		}
	}
	// Validation must run before the roster is queried.
	if !roster.gotF.JoinedAfter.IsZero() || roster.gotF.Limit != 0 {
		t.Fatalf("roster queried despite invalid spec: %+v", roster.gotF)
	}
}

func TestResolveDedup(t *testing.T) {
	t.Parallel()
	roster := &fakeRoster{all: rosterOf(5, 6, 5, 7)}
	got, err := Resolve(context.Background(), roster, Spec{Kind: KindAll}, time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 3 || got[0] != 5 || got[1] != 6 || got[2] != 7 {
		t.Fatalf("dedup wrong: %v", got)
	}
}

func TestResolveEmptyMatchIsNotError(t *testing.T) {
	t.Parallel()
	roster := &fakeRoster{}
	got, err := Resolve(context.Background(), roster, Spec{Kind: KindAll}, time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty segment, got %v", got)
	}
}

func TestResolveLimit(t *testing.T) {
	t.Parallel()
	roster := &fakeRoster{all: rosterOf(1, 2, 3, 4)}
	got, err := Resolve(context.Background(), roster, Spec{Kind: KindLimit, Limit: 2}, time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 2 || got[1] != 2 {
		t.Fatalf("limit segment = %v", got)
	}
	if roster.gotF.Limit != 2 {
		t.Fatalf("limit not pushed to query: %+v", roster.gotF)
	}
}
