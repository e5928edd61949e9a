package context

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	defaultMaxTokens  = 2000
	recentEventsLimit = 20
)

type builder struct {
	cluster   ClusterSource
	logger    *zap.Logger
	maxTokens int
}

// NewBuilder creates a context builder over the cluster datasource.
// maxTokens <= 0 uses the default budget.
func NewBuilder(cluster ClusterSource, logger *zap.Logger, maxTokens int) Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &builder{cluster: cluster, logger: logger, maxTokens: maxTokens}
}

func (b *builder) Build(ctx context.Context, namespace string) (string, error) {
	var sb strings.Builder

	if b.cluster != nil {
		if summary, err := b.cluster.ClusterSummary(ctx); err == nil {
			sb.WriteString("### Cluster Health\n")
			sb.WriteString(summary)
			sb.WriteString("\n\n")
		} else {
			b.logger.Warn("cluster summary unavailable", zap.Error(err))
		}

		if events, err := b.cluster.ListEvents(ctx, namespace, "", recentEventsLimit); err == nil {
			sb.WriteString("### Recent Events\n")
			sb.WriteString(events)
			sb.WriteString("\n")
		} else {
			b.logger.Warn("events unavailable",
				zap.String("namespace", namespace), zap.Error(err))
		}
	}

	if sb.Len() == 0 {
		return "No cluster context available.", nil
	}

	pruned, removed := PruneToTokens(sb.String(), b.maxTokens)
	if len(removed) > 0 {
		b.logger.Info("context pruned to budget",
			zap.Int("max_tokens", b.maxTokens),
			zap.Strings("removed_sections", removed))
	}
	return pruned, nil
}

// EstimateTokens approximates token usage with a chars/4 heuristic, which
// is close enough for a section-granularity budget.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

// PruneToTokens drops trailing "### " sections until the text fits the
// budget. Returns the kept text and the titles of removed sections.
func PruneToTokens(text string, maxTokens int) (string, []string) {
	if EstimateTokens(text) <= maxTokens {
		return text, nil
	}

	sections := strings.Split(text, "\n### ")
	var removed []string
	result := sections[0]

	for _, section := range sections[1:] {
		candidate := result + "\n### " + section
		if EstimateTokens(candidate) <= maxTokens {
			result = candidate
			continue
		}
		title, _, _ := strings.Cut(section, "\n")
		removed = append(removed, title)
	}

	if EstimateTokens(result) > maxTokens {
		// Even the leading section is over budget; hard truncate.
		runes := []rune(result)
		if len(runes) > maxTokens*4 {
			result = string(runes[:maxTokens*4])
		}
		removed = append(removed, fmt.Sprintf("truncated leading section to %d tokens", maxTokens))
	}
	return result, removed
}
