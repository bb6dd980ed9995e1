package labeling

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/trendwire/internal/textclean"
	"github.com/thebtf/trendwire/pkg/models"
)

const (
	// MaxPromptMembers caps how many articles are described in one prompt.
	MaxPromptMembers = 10
	// MaxTopicLength is the rune limit for a topic title.
	MaxTopicLength = 100
	// MaxSummaryLength is the rune limit for a summary.
	MaxSummaryLength = 200
	// DefaultExcerptTokens bounds each excerpt in the prompt.
	DefaultExcerptTokens = 80
)

const labelPrompt = `These %d news articles from different outlets cover the same story.
Write a short topic title (max 100 characters) and a one-sentence summary (max 200 characters) of the story.

Format your response EXACTLY like this:
TOPIC: <topic title>
SUMMARY: <one sentence summary>

Articles:
%s`

// PromptBuilder renders label prompts, bounding each excerpt by token count.
type PromptBuilder struct {
	codec         tokenizer.Codec
	excerptTokens int
}

// NewPromptBuilder creates a builder using the cl100k_base encoding. If the
// encoding cannot be loaded, excerpts are cut by characters instead.
func NewPromptBuilder(excerptTokens int) *PromptBuilder {
	if excerptTokens <= 0 {
		excerptTokens = DefaultExcerptTokens
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, truncating excerpts by characters")
		codec = nil
	}
	return &PromptBuilder{codec: codec, excerptTokens: excerptTokens}
}

// Build renders the prompt for a cluster's members.
func (b *PromptBuilder) Build(members []*models.Article) string {
	if len(members) > MaxPromptMembers {
		members = members[:MaxPromptMembers]
	}

	var sb strings.Builder
	for i, m := range members {
		sb.WriteString(fmt.Sprintf("%d. ", i+1))
		if m.FeedName != "" {
			sb.WriteString("[")
			sb.WriteString(m.FeedName)
			sb.WriteString("] ")
		}
		sb.WriteString(textclean.Clean(m.Title))
		sb.WriteString("\n")
		if excerpt := b.truncateExcerpt(textclean.Clean(m.Excerpt)); excerpt != "" {
			sb.WriteString("   ")
			sb.WriteString(excerpt)
			sb.WriteString("\n")
		}
	}
	return fmt.Sprintf(labelPrompt, len(members), sb.String())
}

func (b *PromptBuilder) truncateExcerpt(excerpt string) string {
	if excerpt == "" {
		return ""
	}
	if b.codec == nil {
		// roughly four characters per token
		return textclean.Truncate(excerpt, b.excerptTokens*4)
	}

	ids, _, err := b.codec.Encode(excerpt)
	if err != nil {
		return textclean.Truncate(excerpt, b.excerptTokens*4)
	}
	if len(ids) <= b.excerptTokens {
		return excerpt
	}
	cut, err := b.codec.Decode(ids[:b.excerptTokens])
	if err != nil {
		return textclean.Truncate(excerpt, b.excerptTokens*4)
	}
	return strings.ToValidUTF8(strings.TrimSpace(cut), "") + "..."
}

// ParseLabel extracts the TOPIC and SUMMARY lines from a provider response.
// Both must be present and non-empty.
func ParseLabel(text string) (models.ClusterLabel, error) {
	var label models.ClusterLabel
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "*"))
		switch {
		case hasPrefixFold(line, "TOPIC:"):
			label.Topic = cleanField(line[len("TOPIC:"):], MaxTopicLength)
		case hasPrefixFold(line, "SUMMARY:"):
			label.Summary = cleanField(line[len("SUMMARY:"):], MaxSummaryLength)
		}
	}

	if label.Topic == "" || label.Summary == "" {
		return models.ClusterLabel{}, fmt.Errorf("%w: %q", ErrMalformedLabel, textclean.Truncate(text, 120))
	}
	return label, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func cleanField(s string, limit int) string {
	s = strings.Trim(strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*")), `"`)
	return textclean.Truncate(textclean.CollapseWhitespace(s), limit)
}
