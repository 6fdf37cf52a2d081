package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ClassLevel — порядковый уровень секретности. Сравнивается обычным >=.
type ClassLevel int

const (
	LevelPublic       ClassLevel = 0
	LevelConfidential ClassLevel = 1
	LevelSecret       ClassLevel = 2
	LevelTopSecret    ClassLevel = 3
)

var levelNames = map[ClassLevel]string{
	LevelPublic:       "PUBLIC",
	LevelConfidential: "CONFIDENTIAL",
	LevelSecret:       "SECRET",
	LevelTopSecret:    "TOP_SECRET",
}

func (l ClassLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL_%d", int(l))
}

// ParseClassLevel конвертирует строку из конфига/БД обратно в уровень.
func ParseClassLevel(s string) (ClassLevel, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for lvl, name := range levelNames {
		if name == s {
			return lvl, nil
		}
	}
	return 0, fmt.Errorf("unknown classification level: %q", s)
}

// SecurityLabel — неизменяемое значение (уровень + набор компартментов).
// Это единственное место в системе, где определено сравнение меток.
// Никто не имеет права дублировать эту логику inline.
type SecurityLabel struct {
	Level        ClassLevel `json:"level"`
	Compartments []string   `json:"compartments,omitempty"`
}

// NewLabel нормализует компартменты (сортировка + дедупликация),
// чтобы две одинаковые метки были равны и как значения.
func NewLabel(level ClassLevel, compartments ...string) SecurityLabel {
	seen := make(map[string]struct{}, len(compartments))
	out := make([]string, 0, len(compartments))
	for _, c := range compartments {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return SecurityLabel{Level: level, Compartments: out}
}

// Dominates — частичный порядок Bell-LaPadula:
// A доминирует над B, если уровень A >= уровня B И компартменты B ⊆ компартментам A.
// Метки с непересекающимися компартментами несравнимы (оба вызова вернут false).
func (a SecurityLabel) Dominates(b SecurityLabel) bool {
	if a.Level < b.Level {
		return false
	}
	if len(b.Compartments) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(a.Compartments))
	for _, c := range a.Compartments {
		have[c] = struct{}{}
	}
	for _, c := range b.Compartments {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

// Equal — равенство как значений (после нормализации NewLabel).
func (a SecurityLabel) Equal(b SecurityLabel) bool {
	return a.Dominates(b) && b.Dominates(a)
}

// Join возвращает наименьшую верхнюю грань: max(уровень), объединение компартментов.
// Используется для наследования меток в DAG групп.
func (a SecurityLabel) Join(b SecurityLabel) SecurityLabel {
	level := a.Level
	if b.Level > level {
		level = b.Level
	}
	return NewLabel(level, append(append([]string{}, a.Compartments...), b.Compartments...)...)
}

func (a SecurityLabel) String() string {
	if len(a.Compartments) == 0 {
		return a.Level.String()
	}
	return a.Level.String() + "//" + strings.Join(a.Compartments, ",")
}
