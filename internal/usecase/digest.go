package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"NewsCollector/internal/domain"
)

const digestTopStories = 10

// RenderDigest formats a run summary as Telegram Markdown. fresh is the number
// of clusters not seen by earlier runs, negative when unknown.
func RenderDigest(result domain.CollectionResult, fresh int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*News collection: %s*\n", escapeMarkdown(result.Subject))
	state := "complete"
	if result.Partial {
		state = "partial"
	}
	fmt.Fprintf(&b, "Run `%s` %s in %s\n", result.RunID, state, result.FinishedAt.Sub(result.StartedAt).Round(time.Second))
	if fresh >= 0 {
		fmt.Fprintf(&b, "Clusters: %d (%d new)\n", len(result.Clusters), fresh)
	} else {
		fmt.Fprintf(&b, "Clusters: %d\n", len(result.Clusters))
	}

	if len(result.Phases) > 0 {
		b.WriteString("\n*Phases*\n")
		for _, p := range result.Phases {
			fmt.Fprintf(&b, "• %s: %s, %d/%d accepted, %d merged\n",
				escapeMarkdown(p.Name), p.Status, p.Accepted, p.Target, p.Merged)
		}
	}

	if len(result.Consumption) > 0 {
		names := make([]string, 0, len(result.Consumption))
		for name := range result.Consumption {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteString("\n*Budget*\n")
		for _, name := range names {
			c := result.Consumption[name]
			fmt.Fprintf(&b, "• %s: %d/%d used", escapeMarkdown(name), c.Committed, c.Total)
			if c.Overage > 0 {
				fmt.Fprintf(&b, ", %d over", c.Overage)
			}
			if !c.Usable {
				b.WriteString(", disabled")
			}
			b.WriteByte('\n')
		}
	}

	if len(result.Clusters) > 0 {
		clusters := append([]domain.Cluster(nil), result.Clusters...)
		sort.SliceStable(clusters, func(i, j int) bool {
			return clusters[i].Canonical.PublishedAt.After(clusters[j].Canonical.PublishedAt)
		})
		if len(clusters) > digestTopStories {
			clusters = clusters[:digestTopStories]
		}

		b.WriteString("\n*Latest*\n")
		for _, cl := range clusters {
			title := escapeMarkdown(cl.Canonical.Title)
			if cl.Canonical.URL != "" {
				fmt.Fprintf(&b, "• [%s](%s) (%s", title, cl.Canonical.URL, cl.Canonical.Source)
			} else {
				fmt.Fprintf(&b, "• %s (%s", title, cl.Canonical.Source)
			}
			if n := len(cl.Members); n > 1 {
				fmt.Fprintf(&b, ", %d reports", n)
			}
			b.WriteString(")\n")
		}
	}

	return b.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "`", "\\`")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
