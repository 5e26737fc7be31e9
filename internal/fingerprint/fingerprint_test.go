package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "case and whitespace", input: "  Alpha   SQUADRON\tPvP ", want: "alpha squadron pvp"},
		{name: "brackets become separators", input: "[RU] Alpha|Squadron", want: "ru alpha squadron"},
		{name: "decorative tokens dropped", input: "★★ Alpha ★ =-= Squadron ★★", want: "alpha squadron"},
		{name: "edge punctuation trimmed", input: "Alpha! Squadron...", want: "alpha squadron"},
		{name: "inner punctuation kept", input: "24/7 Open-Server", want: "24/7 open-server"},
		{name: "fullwidth folded", input: "ＡＬＰＨＡ", want: "alpha"},
		{name: "non-breaking space", input: "Alpha\u00a0Squadron", want: "alpha squadron"},
		{name: "control chars removed", input: "Al\u200bpha\x07", want: "alpha"},
		{name: "cyrillic folded", input: "КАВКАЗ Сервер", want: "кавказ сервер"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalizeTruncates(t *testing.T) {
	long := ""
	for range 30 {
		long += "abcdef "
	}
	got := Normalize(long)
	assert.LessOrEqual(t, len([]rune(got)), maxNameRunes)
}

func TestCompute(t *testing.T) {
	fp := Compute("10.0.0.1", 10308, "Alpha Squadron")
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Compute("10.0.0.1", 10308, "  ALPHA   squadron "))
	assert.Equal(t, fp, Compute("10.0.0.1", 10308, "★ Alpha Squadron ★"))
	assert.NotEqual(t, fp, Compute("10.0.0.2", 10308, "Alpha Squadron"))
	assert.NotEqual(t, fp, Compute("10.0.0.1", 10309, "Alpha Squadron"))
	assert.NotEqual(t, fp, Compute("10.0.0.1", 10308, "Bravo Squadron"))
}

func TestSimilarity(t *testing.T) {
	t.Run("identical after normalization", func(t *testing.T) {
		assert.InDelta(t, 1.0, Similarity("Alpha Squadron PVP", "alpha squadron pvp"), 1e-9)
	})

	t.Run("word order ignored", func(t *testing.T) {
		assert.InDelta(t, 1.0, Similarity("Squadron Alpha", "Alpha Squadron"), 1e-9)
	})

	t.Run("added tag words", func(t *testing.T) {
		assert.InDelta(t, 1.0, Similarity("Alpha Squadron PVP", "Alpha Squadron PVP [NEW IP]"), 1e-9)
	})

	t.Run("plural difference", func(t *testing.T) {
		// shared "flag red", then "flag red server" vs "flag red servers"
		assert.InDelta(t, 1-1.0/16, Similarity("Red Flag Server", "Red Flag Servers"), 1e-9)
	})

	t.Run("partial overlap lands in review range", func(t *testing.T) {
		s := Similarity("Blue Flag Caucasus", "Blue Flag Syria")
		assert.GreaterOrEqual(t, s, 0.6)
		assert.Less(t, s, 0.85)
	})

	t.Run("unrelated names", func(t *testing.T) {
		assert.Less(t, Similarity("Alpha Squadron", "Zulu Dynamic Ops"), 0.55)
	})

	t.Run("empty name never matches", func(t *testing.T) {
		assert.Zero(t, Similarity("", "Alpha"))
		assert.Zero(t, Similarity("★★★", "Alpha"))
	})

	t.Run("symmetric", func(t *testing.T) {
		a, b := "Blue Flag Caucasus", "Blue Flag Syria"
		assert.InDelta(t, Similarity(a, b), Similarity(b, a), 1e-9)
	})
}

func TestMissionPrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "Foothold_Syria_v2.3.miz", want: "foothold_syria_v"},
		{input: "Foothold_Syria_v2.4.miz", want: "foothold_syria_v"},
		{input: "BlueFlag-Caucasus-2024-10", want: "blueflag-caucasus"},
		{input: "Training Range", want: "training range"},
		{input: "2024 Campaign", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, MissionPrefix(tt.input))
		})
	}
}

func TestContent(t *testing.T) {
	a := Content("Alpha", "Foothold_v1.miz")
	assert.Len(t, a, 16)
	assert.Equal(t, a, Content("Alpha", "Foothold_v1.miz"))
	assert.NotEqual(t, a, Content("AlphaFoothold_v1.miz", ""), "field boundaries are part of the hash")
}
