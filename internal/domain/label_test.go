package domain

import "testing"

func TestDominatesLevels(t *testing.T) {
	t.Parallel()

	secret := NewLabel(LevelSecret)
	public := NewLabel(LevelPublic)

	if !secret.Dominates(public) {
		t.Error("SECRET must dominate PUBLIC")
	}
	if public.Dominates(secret) {
		t.Error("PUBLIC must not dominate SECRET")
	}
	if !secret.Dominates(secret) {
		t.Error("Dominates must be reflexive")
	}
}

func TestDominatesCompartments(t *testing.T) {
	t.Parallel()

	broad := NewLabel(LevelSecret, "CRYPTO", "NUCLEAR")
	narrow := NewLabel(LevelSecret, "CRYPTO")
	other := NewLabel(LevelSecret, "SIGINT")

	if !broad.Dominates(narrow) {
		t.Error("superset of compartments must dominate subset at equal level")
	}
	if narrow.Dominates(broad) {
		t.Error("subset must not dominate superset")
	}

	// Непересекающиеся компартменты: метки несравнимы в обе стороны.
	if narrow.Dominates(other) || other.Dominates(narrow) {
		t.Error("labels with disjoint compartments must be incomparable")
	}
}

func TestDominatesHigherLevelMissingCompartment(t *testing.T) {
	t.Parallel()

	// Уровня недостаточно: TOP_SECRET без компартмента не доминирует
	// над SECRET//CRYPTO.
	high := NewLabel(LevelTopSecret)
	compartmented := NewLabel(LevelSecret, "CRYPTO")

	if high.Dominates(compartmented) {
		t.Error("higher level without the compartment must not dominate")
	}
}

func TestNewLabelNormalizes(t *testing.T) {
	t.Parallel()

	a := NewLabel(LevelSecret, "B", "A", "B", " ", "A")
	b := NewLabel(LevelSecret, "A", "B")

	if !a.Equal(b) {
		t.Errorf("normalization failed: %v != %v", a, b)
	}
	if len(a.Compartments) != 2 || a.Compartments[0] != "A" || a.Compartments[1] != "B" {
		t.Errorf("compartments not sorted/deduplicated: %v", a.Compartments)
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	a := NewLabel(LevelConfidential, "CRYPTO")
	b := NewLabel(LevelSecret, "SIGINT")

	j := a.Join(b)
	if j.Level != LevelSecret {
		t.Errorf("join level: got %v, want SECRET", j.Level)
	}
	if !j.Dominates(a) || !j.Dominates(b) {
		t.Error("join must dominate both operands")
	}
	if len(j.Compartments) != 2 {
		t.Errorf("join compartments: got %v", j.Compartments)
	}

	// Join с самим собой — идемпотентен.
	if !a.Join(a).Equal(a) {
		t.Error("join must be idempotent")
	}
}

func TestParseClassLevel(t *testing.T) {
	t.Parallel()

	lvl, err := ParseClassLevel(" top_secret ")
	if err != nil {
		t.Fatalf("ParseClassLevel: %v", err)
	}
	if lvl != LevelTopSecret {
		t.Errorf("got %v, want TOP_SECRET", lvl)
	}

	if _, err := ParseClassLevel("ULTRA"); err == nil {
		t.Error("unknown level must be rejected")
	}
}

func TestLabelString(t *testing.T) {
	t.Parallel()

	got := NewLabel(LevelSecret, "CRYPTO", "NUCLEAR").String()
	want := "SECRET//CRYPTO,NUCLEAR"
	if got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
}
