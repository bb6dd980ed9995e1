// Package textclean normalises feed text before it is keyworded or sent to a labeler.
package textclean

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// blockRegex matches <script> and <style> elements including their bodies
	blockRegex = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>|<style[^>]*>.*?</style>`)

	// tagRegex matches any remaining markup tag
	tagRegex = regexp.MustCompile(`(?s)<[^>]+>`)

	whitespaceRegex = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// StripBlocks removes script and style elements with their content.
func StripBlocks(text string) string {
	return blockRegex.ReplaceAllString(text, " ")
}

// StripTags removes markup tags, keeping their inner text.
func StripTags(text string) string {
	return tagRegex.ReplaceAllString(text, " ")
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims the ends.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// Clean performs full normalisation on feed text.
// This is the function to use on titles and excerpts.
func Clean(text string) string {
	text = StripBlocks(text)
	text = StripTags(text)
	text = html.UnescapeString(text)
	return CollapseWhitespace(text)
}

// IsBlank reports whether nothing but markup and whitespace is left after cleaning.
func IsBlank(text string) bool {
	return Clean(text) == ""
}

// Truncate shortens text to at most maxRunes runes without splitting a character.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes])
}
