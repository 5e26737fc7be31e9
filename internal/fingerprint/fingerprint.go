// Package fingerprint derives stable identity signatures and name similarity scores for game servers.
package fingerprint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// maxNameRunes bounds the normalized name so very long decorated names hash consistently.
const maxNameRunes = 100

// brackets are treated as separators, their content is kept.
const brackets = "[](){}<>【】「」『』〔〕|"

// Normalize case-folds a display name, collapses whitespace and strips decoration
// (bracket characters, control characters and tokens without any letter or digit).
func Normalize(name string) string {
	if name == "" {
		return ""
	}

	folded := cases.Fold().String(norm.NFKC.String(name))

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(brackets, r):
			return ' '
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, folded)

	tokens := make([]string, 0, 8)
	for _, tok := range strings.Fields(cleaned) {
		tok = strings.TrimFunc(tok, isDecoration)
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}

	out := strings.Join(tokens, " ")
	if utf8.RuneCountInString(out) > maxNameRunes {
		out = strings.TrimSpace(string([]rune(out)[:maxNameRunes]))
	}

	return out
}

// Compute returns the 16 hex char content signature of a server endpoint and its normalized name.
// It is an equality pre-filter only: equal fingerprints do not prove identity.
func Compute(address string, port int, name string) string {
	var b strings.Builder
	b.Grow(len(address) + len(name) + 8)
	b.WriteString(address)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(port))
	b.WriteByte(':')
	b.WriteString(Normalize(name))

	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

// Content hashes the mutable display content of one observation so unchanged
// snapshots can be recognized without comparing every field.
func Content(parts ...string) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}

	return fmt.Sprintf("%016x", d.Sum64())
}

// Tokens splits a normalized name into its unique sorted tokens.
func Tokens(normalized string) []string {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)

	return out
}

// Similarity scores two display names in [0, 1] using a token-set comparison:
// the shared tokens are compared against each side's shared+remaining tokens
// and the best edit ratio wins, so word order and added words weigh little.
func Similarity(a, b string) float64 {
	ta := Tokens(Normalize(a))
	tb := Tokens(Normalize(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inB := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		inB[t] = struct{}{}
	}

	var sect, onlyA []string
	for _, t := range ta {
		if _, ok := inB[t]; ok {
			sect = append(sect, t)
			delete(inB, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	onlyB := make([]string, 0, len(inB))
	for _, t := range tb {
		if _, ok := inB[t]; ok {
			onlyB = append(onlyB, t)
		}
	}

	t0 := strings.Join(sect, " ")
	t1 := joinNonEmpty(t0, strings.Join(onlyA, " "))
	t2 := joinNonEmpty(t0, strings.Join(onlyB, " "))

	best := ratio(t1, t2)
	if t0 != "" {
		best = max(best, ratio(t0, t1), ratio(t0, t2))
	}

	return best
}

// MissionPrefix returns the case-folded part of a mission identifier before its first digit,
// with trailing separators removed. Versioned mission files of one campaign share it.
func MissionPrefix(mission string) string {
	m := cases.Fold().String(strings.TrimSpace(mission))
	if i := strings.IndexFunc(m, unicode.IsDigit); i >= 0 {
		m = m[:i]
	}

	return strings.TrimRightFunc(m, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// ratio is the normalized edit similarity of two strings.
func ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}

	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func isDecoration(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
