// Package text holds the SEO text helpers shared by the generator and the
// orchestrator: slugs, word counts, reading time and excerpts.
package text

import (
	"context"
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxSlugLength  = 250
	ExcerptLength  = 160
	WordsPerMinute = 200
	fallbackSlug   = "post"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	spaces       = regexp.MustCompile(`\s+`)
	stripTags    = bluemonday.StrictPolicy()
)

// Slugify lowercases s, drops diacritics and collapses everything outside
// [a-z0-9] into single dashes. The result is never empty.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	slug := nonSlugChars.ReplaceAllString(strings.ToLower(folded), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// UniqueSlug returns base if it is free, otherwise the first free base-N
// with N starting at 1. taken lists the slugs that already start with base.
func UniqueSlug(base string, taken []string) string {
	used := make(map[string]struct{}, len(taken))
	for _, s := range taken {
		used[s] = struct{}{}
	}
	if _, ok := used[base]; !ok {
		return base
	}
	for n := 1; ; n++ {
		suffix := fmt.Sprintf("-%d", n)
		stem := base
		if len(stem)+len(suffix) > MaxSlugLength {
			stem = strings.TrimRight(stem[:MaxSlugLength-len(suffix)], "-")
		}
		candidate := stem + suffix
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
}

// SlugLister is satisfied by the post repository.
type SlugLister interface {
	ListSlugsWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// NextSlug slugifies title and resolves collisions against stored slugs.
func NextSlug(ctx context.Context, posts SlugLister, title string) (string, error) {
	base := Slugify(title)
	taken, err := posts.ListSlugsWithPrefix(ctx, base)
	if err != nil {
		return "", fmt.Errorf("listing slugs for %q: %w", base, err)
	}
	return UniqueSlug(base, taken), nil
}

// PlainText strips markup and collapses whitespace.
func PlainText(body string) string {
	s := stripTags.Sanitize(strings.NewReplacer("<", " <", ">", "> ").Replace(body))
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func WordCount(body string) int {
	return len(strings.Fields(PlainText(body)))
}

func ReadingMinutes(words int) int {
	minutes := int(math.Round(float64(words) / WordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Excerpt returns the first n characters of the body text, cut at a word
// boundary and suffixed with "..." when shortened.
func Excerpt(body string, n int) string {
	plain := PlainText(body)
	if utf8.RuneCountInString(plain) <= n {
		return plain
	}
	cut := Truncate(plain, n-3)
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
