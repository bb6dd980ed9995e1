package labeling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/trendwire/pkg/models"
)

// scriptedProvider returns the scripted errors in order, then succeeds.
type scriptedProvider struct {
	mu      sync.Mutex
	errs    []error
	label   models.ClusterLabel
	calls   int
	members int
	block   bool
}

func (p *scriptedProvider) GenerateLabel(ctx context.Context, members []*models.Article) (models.ClusterLabel, error) {
	p.mu.Lock()
	p.calls++
	p.members = len(members)
	call := p.calls
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return models.ClusterLabel{}, ctx.Err()
	}
	if call <= len(p.errs) {
		return models.ClusterLabel{}, p.errs[call-1]
	}
	return p.label, nil
}

type LabelerSuite struct {
	suite.Suite
	members []*models.Article
	sleeps  []time.Duration
}

func TestLabelerSuite(t *testing.T) {
	suite.Run(t, new(LabelerSuite))
}

func (s *LabelerSuite) SetupTest() {
	s.members = []*models.Article{
		{ID: "a", Title: "Central bank lifts rates to 5%", Excerpt: "The decision surprised markets.", FeedName: "Reuters"},
		{ID: "b", Title: "Rates rise again", Excerpt: "Borrowing costs climb.", FeedName: "BBC"},
	}
	s.sleeps = nil
}

func (s *LabelerSuite) newLabeler(p Provider) *Labeler {
	l := NewLabeler(p, Options{})
	l.sleep = func(_ context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return nil
	}
	return l
}

func (s *LabelerSuite) realLabel() models.ClusterLabel {
	return models.ClusterLabel{Topic: "Rates climb", Summary: "Central banks raise borrowing costs again."}
}

func (s *LabelerSuite) TestSuccessFirstTry() {
	p := &scriptedProvider{label: s.realLabel()}
	label := s.newLabeler(p).Label(context.Background(), s.members)

	s.Equal("Rates climb", label.Topic)
	s.False(label.Fallback)
	s.Equal(1, p.calls)
	s.Empty(s.sleeps)
}

func (s *LabelerSuite) TestRateLimitedTwiceThenSucceeds() {
	p := &scriptedProvider{
		errs: []error{
			&ProviderError{Provider: "openai", StatusCode: 429},
			&ProviderError{Provider: "openai", StatusCode: 429},
		},
		label: s.realLabel(),
	}
	label := s.newLabeler(p).Label(context.Background(), s.members)

	s.Equal(s.realLabel().Topic, label.Topic)
	s.False(label.Fallback)
	s.Equal(3, p.calls)
	s.LessOrEqual(p.calls, DefaultMaxAttempts)
	s.Equal([]time.Duration{time.Second, 2 * time.Second}, s.sleeps)
}

func (s *LabelerSuite) TestServerErrorsExhaustRetries() {
	p := &scriptedProvider{
		errs: []error{
			&ProviderError{StatusCode: 500},
			&ProviderError{StatusCode: 502},
			&ProviderError{StatusCode: 503},
			&ProviderError{StatusCode: 503},
		},
		label: s.realLabel(),
	}
	label := s.newLabeler(p).Label(context.Background(), s.members)

	s.True(label.Fallback)
	s.Equal(DefaultMaxAttempts, p.calls)
	s.Equal(FallbackLabel(s.members), label)
}

func (s *LabelerSuite) TestPermanentErrorsFallBackImmediately() {
	tests := []struct {
		name string
		err  error
	}{
		{"unauthorized", &ProviderError{StatusCode: 401}},
		{"bad request", &ProviderError{StatusCode: 400}},
		{"malformed", ErrMalformedLabel},
		{"network", errors.New("connection refused")},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.sleeps = nil
			p := &scriptedProvider{errs: []error{tt.err}, label: s.realLabel()}
			label := s.newLabeler(p).Label(context.Background(), s.members)

			s.True(label.Fallback)
			s.Equal("Central bank lifts rates to 5%", label.Topic)
			s.Equal("The decision surprised markets.", label.Summary)
			s.Equal(1, p.calls)
			s.Empty(s.sleeps)
		})
	}
}

func (s *LabelerSuite) TestEmptyLabelTreatedAsMalformed() {
	p := &scriptedProvider{label: models.ClusterLabel{Topic: "  ", Summary: "x"}}
	label := s.newLabeler(p).Label(context.Background(), s.members)
	s.True(label.Fallback)
	s.Equal(1, p.calls)
}

func (s *LabelerSuite) TestLongLabelIsTruncated() {
	p := &scriptedProvider{label: models.ClusterLabel{
		Topic:   strings.Repeat("t", 300),
		Summary: strings.Repeat("s", 300),
	}}
	label := s.newLabeler(p).Label(context.Background(), s.members)
	s.Len(label.Topic, MaxTopicLength)
	s.Len(label.Summary, MaxSummaryLength)
}

func (s *LabelerSuite) TestCallTimeoutBoundsStuckProvider() {
	p := &scriptedProvider{block: true}
	l := NewLabeler(p, Options{CallTimeout: 20 * time.Millisecond})

	started := time.Now()
	label := l.Label(context.Background(), s.members)

	s.True(label.Fallback)
	s.Less(time.Since(started), 2*time.Second)
}

func (s *LabelerSuite) TestCancelledDuringBackoff() {
	p := &scriptedProvider{errs: []error{&ProviderError{StatusCode: 429}}, label: s.realLabel()}
	l := NewLabeler(p, Options{BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	label := l.Label(ctx, s.members)

	s.True(label.Fallback)
	s.Equal(1, p.calls)
}

func (s *LabelerSuite) TestMembersCapped() {
	members := make([]*models.Article, 0, 25)
	for i := 0; i < 25; i++ {
		members = append(members, &models.Article{Title: "t"})
	}
	p := &scriptedProvider{label: s.realLabel()}
	s.newLabeler(p).Label(context.Background(), members)
	s.Equal(MaxPromptMembers, p.members)
}

func (s *LabelerSuite) TestNilProvider() {
	l := NewLabeler(nil, Options{})
	s.False(l.Enabled())
	s.True(l.Label(context.Background(), s.members).Fallback)
}

func (s *LabelerSuite) TestFallbackLabel() {
	tests := []struct {
		name    string
		members []*models.Article
		topic   string
		summary string
	}{
		{
			name:    "no members",
			topic:   FallbackTopic,
			summary: FallbackSummary,
		},
		{
			name:    "missing excerpt uses placeholder",
			members: []*models.Article{{Title: "Storm hits coast"}},
			topic:   "Storm hits coast",
			summary: FallbackSummary,
		},
		{
			name:    "long fields truncated",
			members: []*models.Article{{Title: strings.Repeat("a", 150), Excerpt: strings.Repeat("b", 250)}},
			topic:   strings.Repeat("a", 100),
			summary: strings.Repeat("b", 200),
		},
		{
			name:    "markup stripped",
			members: []*models.Article{{Title: "<b>Storm</b> hits", Excerpt: "<p>Winds&nbsp;rise</p>"}},
			topic:   "Storm hits",
			summary: "Winds rise",
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			label := FallbackLabel(tt.members)
			s.True(label.Fallback)
			s.Equal(tt.topic, label.Topic)
			s.Equal(tt.summary, label.Summary)
		})
	}
}

func (s *LabelerSuite) TestIsTransient() {
	s.True(IsTransient(&ProviderError{StatusCode: 429}))
	s.True(IsTransient(&ProviderError{StatusCode: 500}))
	s.True(IsTransient(&ProviderError{StatusCode: 504}))
	s.False(IsTransient(&ProviderError{StatusCode: 404}))
	s.False(IsTransient(errors.New("boom")))
	s.False(IsTransient(context.DeadlineExceeded))
}
