package dedupe

import (
	"slices"
	"sort"
	"sync"
	"time"

	"NewsCollector/internal/domain"
)

const (
	DefaultThreshold   = 0.85
	DefaultMergeWindow = 48 * time.Hour
)

// Options tunes near-duplicate detection.
type Options struct {
	// Threshold is inclusive: a ratio equal to it merges.
	Threshold float64
	Window    time.Duration
}

type bucketKey struct {
	day   time.Time
	token string
}

type member struct {
	candidate domain.ArticleCandidate
	title     string
}

// cluster is a node of a union-find forest: parent == own index while the
// cluster is live, otherwise it points towards the cluster that absorbed it.
type cluster struct {
	parent    int
	canonical domain.ArticleCandidate
	members   []member
}

// Engine clusters candidates across sources. Near-duplicate search only looks
// at buckets keyed by publish day and first title token. A candidate matching
// several clusters joins them into one, so the final partition does not depend
// on arrival order.
type Engine struct {
	mu           sync.Mutex
	opts         Options
	clusters     []*cluster
	live         int
	byURL        map[string]int
	buckets      map[bucketKey][]int
	fingerprints map[string]int
}

// NewEngine applies defaults for zero options.
func NewEngine(opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Window <= 0 {
		opts.Window = DefaultMergeWindow
	}
	return &Engine{
		opts:         opts,
		byURL:        map[string]int{},
		buckets:      map[bucketKey][]int{},
		fingerprints: map[string]int{},
	}
}

func fingerprint(c domain.ArticleCandidate) string {
	if c.ExternalID != "" {
		return c.Source + "\x00" + c.ExternalID
	}
	return c.Source + "\x00" + IdentityKey(c)
}

// find resolves id to its live cluster, halving paths on the way.
func (e *Engine) find(id int) int {
	for e.clusters[id].parent != id {
		parent := e.clusters[id].parent
		e.clusters[id].parent = e.clusters[parent].parent
		id = parent
	}
	return id
}

// Ingest places a candidate into a cluster. The same candidate seen twice is
// rejected rather than clustered again. ClusterID is an engine handle, valid
// until a later ingest joins that cluster with another one.
func (e *Engine) Ingest(c domain.ArticleCandidate) domain.ClusterOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	fp := fingerprint(c)
	if id, ok := e.fingerprints[fp]; ok {
		return domain.ClusterOutcome{Kind: domain.OutcomeRejectedDuplicate, ClusterID: e.find(id), Score: 1}
	}

	m := member{candidate: c, title: NormalizeTitle(c.Title)}
	normURL := NormalizeURL(c.URL)

	var matches []int
	best := 0.0
	if normURL != "" {
		if id, ok := e.byURL[normURL]; ok {
			matches = append(matches, e.find(id))
			best = 1
		}
	}
	matches, best = e.nearest(m, matches, best)

	if len(matches) == 0 {
		id := len(e.clusters)
		e.clusters = append(e.clusters, &cluster{parent: id, canonical: c})
		e.live++
		e.attach(id, m, normURL)
		e.fingerprints[fp] = id
		return domain.ClusterOutcome{Kind: domain.OutcomeNewCluster, ClusterID: id, Score: 1}
	}

	target := slices.Min(matches)
	for _, id := range matches {
		if id != target {
			e.absorb(target, id)
		}
	}
	e.attach(target, m, normURL)
	e.fingerprints[fp] = target
	return domain.ClusterOutcome{
		Kind:      domain.OutcomeMergedInto,
		ClusterID: target,
		Score:     best,
		Absorbed:  len(matches) - 1,
	}
}

// nearest appends every live cluster holding a member similar to m within the
// merge window. Roots already in matches are not added twice.
func (e *Engine) nearest(m member, matches []int, best float64) ([]int, float64) {
	if m.title == "" {
		return matches, best
	}

	token := firstToken(m.title)
	day := domain.TruncateDay(m.candidate.PublishedAt)
	span := int((e.opts.Window + 24*time.Hour - 1) / (24 * time.Hour))

	var checked []int
	for offset := -span; offset <= span; offset++ {
		key := bucketKey{day: day.AddDate(0, 0, offset), token: token}
		for _, id := range e.buckets[key] {
			root := e.find(id)
			if slices.Contains(checked, root) {
				continue
			}
			checked = append(checked, root)

			score, ok := e.match(e.clusters[root], m)
			if !ok {
				continue
			}
			best = max(best, score)
			if !slices.Contains(matches, root) {
				matches = append(matches, root)
			}
		}
	}
	return matches, best
}

func (e *Engine) match(cl *cluster, m member) (float64, bool) {
	best, ok := 0.0, false
	for _, other := range cl.members {
		gap := m.candidate.PublishedAt.Sub(other.candidate.PublishedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > e.opts.Window {
			continue
		}
		score := Similarity(m.title, other.title)
		if score < e.opts.Threshold {
			continue
		}
		if !ok || score > best {
			best, ok = score, true
		}
	}
	return best, ok
}

// absorb folds cluster src into dst. Index entries pointing at src resolve to
// dst through find.
func (e *Engine) absorb(dst, src int) {
	to, from := e.clusters[dst], e.clusters[src]
	to.members = append(to.members, from.members...)
	if Better(from.canonical, to.canonical) {
		to.canonical = from.canonical
	}
	from.members = nil
	from.parent = dst
	e.live--
}

func (e *Engine) attach(id int, m member, normURL string) {
	cl := e.clusters[id]
	cl.members = append(cl.members, m)
	if Better(m.candidate, cl.canonical) {
		cl.canonical = m.candidate
	}

	if normURL != "" {
		if _, ok := e.byURL[normURL]; !ok {
			e.byURL[normURL] = id
		}
	}
	if m.title == "" {
		return
	}
	key := bucketKey{day: domain.TruncateDay(m.candidate.PublishedAt), token: firstToken(m.title)}
	ids := e.buckets[key]
	for _, existing := range ids {
		if e.find(existing) == id {
			return
		}
	}
	e.buckets[key] = append(ids, id)
}

// Better reports whether a should be canonical over b: full body first, then
// earlier publish time, then the smaller source, external id, URL and title.
func Better(a, b domain.ArticleCandidate) bool {
	if a.HasBody() != b.HasBody() {
		return a.HasBody()
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.Before(b.PublishedAt)
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.ExternalID != b.ExternalID {
		return a.ExternalID < b.ExternalID
	}
	if a.URL != b.URL {
		return a.URL < b.URL
	}
	return a.Title < b.Title
}

// Len returns the number of clusters.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// Clusters returns a snapshot ordered by canonical publish time, then key.
// IDs are positions in that order and scores are title similarity to the
// canonical member, so equal inputs give equal snapshots.
func (e *Engine) Clusters() []domain.Cluster {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Cluster, 0, e.live)
	for id, cl := range e.clusters {
		if cl.parent != id {
			continue
		}
		members := make([]domain.ArticleCandidate, len(cl.members))
		for i, m := range cl.members {
			members[i] = m.candidate
		}
		sort.SliceStable(members, func(i, j int) bool {
			return Better(members[i], members[j])
		})

		canonical := NormalizeTitle(cl.canonical.Title)
		scores := make([]float64, len(members))
		for i, m := range members {
			scores[i] = Similarity(NormalizeTitle(m.Title), canonical)
		}

		out = append(out, domain.Cluster{
			Key:       IdentityKey(cl.canonical),
			Canonical: cl.canonical,
			Members:   members,
			Scores:    scores,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Canonical.PublishedAt, out[j].Canonical.PublishedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].Key < out[j].Key
	})
	for i := range out {
		out[i].ID = i
	}
	return out
}
