// Package labeling names trending clusters through an external language model,
// degrading to a deterministic label whenever the model is unavailable.
package labeling

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/trendwire/internal/textclean"
	"github.com/thebtf/trendwire/pkg/models"
)

const (
	// DefaultMaxAttempts is the total number of calls made for one label.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait before the first retry; it doubles each retry.
	DefaultBaseDelay = time.Second
	// DefaultCallTimeout bounds a single provider call.
	DefaultCallTimeout = 30 * time.Second

	// FallbackTopic is used when the first member has no title.
	FallbackTopic = "Trending story"
	// FallbackSummary is used when the first member has no excerpt.
	FallbackSummary = "Multiple outlets are reporting on this story."
)

// Provider is an external capability that names a group of articles.
// Implementations return *ProviderError for HTTP failures and
// ErrMalformedLabel when the response cannot be parsed.
type Provider interface {
	GenerateLabel(ctx context.Context, members []*models.Article) (models.ClusterLabel, error)
}

// Options tunes the retry policy.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration
}

// Labeler wraps a Provider with bounded retry, a per-call timeout and a
// deterministic fallback. Label never fails.
type Labeler struct {
	provider Provider
	sleep    func(ctx context.Context, d time.Duration) error
	opts     Options
}

// NewLabeler creates a labeler. A nil provider makes every label a fallback.
func NewLabeler(provider Provider, opts Options) *Labeler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Labeler{provider: provider, opts: opts, sleep: sleepContext}
}

// Enabled reports whether a provider is configured.
func (l *Labeler) Enabled() bool {
	return l != nil && l.provider != nil
}

// Label returns a topic and summary for the members. Rate-limit and server
// errors are retried with exponential backoff; anything else, including an
// exhausted retry budget, yields FallbackLabel.
func (l *Labeler) Label(ctx context.Context, members []*models.Article) models.ClusterLabel {
	if len(members) == 0 || !l.Enabled() {
		return FallbackLabel(members)
	}
	if len(members) > MaxPromptMembers {
		members = members[:MaxPromptMembers]
	}

	delay := l.opts.BaseDelay
	for attempt := 1; attempt <= l.opts.MaxAttempts; attempt++ {
		label, err := l.call(ctx, members)
		if err == nil {
			return label
		}

		if !IsTransient(err) {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Label provider failed, using fallback label")
			return FallbackLabel(members)
		}
		if attempt == l.opts.MaxAttempts {
			log.Warn().Err(err).Int("attempts", attempt).Msg("Label retries exhausted, using fallback label")
			return FallbackLabel(members)
		}

		log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("Transient label error, retrying")
		if err := l.sleep(ctx, delay); err != nil {
			return FallbackLabel(members)
		}
		delay *= 2
	}
	return FallbackLabel(members)
}

func (l *Labeler) call(ctx context.Context, members []*models.Article) (models.ClusterLabel, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	defer cancel()

	label, err := l.provider.GenerateLabel(callCtx, members)
	if err != nil {
		return models.ClusterLabel{}, err
	}
	label.Topic = textclean.Truncate(textclean.CollapseWhitespace(label.Topic), MaxTopicLength)
	label.Summary = textclean.Truncate(textclean.CollapseWhitespace(label.Summary), MaxSummaryLength)
	if label.Topic == "" || label.Summary == "" {
		return models.ClusterLabel{}, ErrMalformedLabel
	}
	label.Fallback = false
	return label, nil
}

// FallbackLabel derives a label from the first member: its title as the
// topic and its excerpt as the summary, with placeholders when either is empty.
func FallbackLabel(members []*models.Article) models.ClusterLabel {
	label := models.ClusterLabel{Topic: FallbackTopic, Summary: FallbackSummary, Fallback: true}
	if len(members) == 0 || members[0] == nil {
		return label
	}
	if title := textclean.Clean(members[0].Title); title != "" {
		label.Topic = textclean.Truncate(title, MaxTopicLength)
	}
	if excerpt := textclean.Clean(members[0].Excerpt); excerpt != "" {
		label.Summary = textclean.Truncate(excerpt, MaxSummaryLength)
	}
	return label
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
