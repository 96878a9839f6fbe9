package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// nameWeight makes a match in the tool name count double compared to a
// match in the description.
const nameWeight = 2.0

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "this": {}, "that": {}, "it": {}, "its": {}, "as": {},
	"if": {}, "not": {}, "no": {}, "do": {}, "does": {}, "can": {},
	"will": {}, "has": {}, "have": {}, "had": {}, "may": {}, "might": {},
	"should": {}, "would": {}, "all": {}, "each": {}, "every": {}, "any": {},
	"some": {},
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == '_' || !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, w := range fields {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

type toolTokens struct {
	name []string
	desc []string
}

// KeywordRetriever scores tools with a TF-IDF similarity between the
// query and tool names/descriptions. The index is rebuilt whenever the
// candidate set changes; empty queries score every tool equally.
type KeywordRetriever struct {
	// TopK bounds the result size; zero means 10.
	TopK int

	mu     sync.Mutex
	tokens map[string]toolTokens
	idf    map[string]float64
}

func (k *KeywordRetriever) topK() int {
	if k.TopK <= 0 {
		return 10
	}
	return k.TopK
}

// Rebuild recomputes the TF-IDF index over the given tools.
func (k *KeywordRetriever) Rebuild(tools []*mcp.Tool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tokens = make(map[string]toolTokens, len(tools))
	docFreq := make(map[string]int)
	for _, tool := range tools {
		tt := toolTokens{name: tokenize(tool.Name), desc: tokenize(tool.Description)}
		k.tokens[tool.Name] = tt
		unique := make(map[string]struct{})
		for _, t := range tt.name {
			unique[t] = struct{}{}
		}
		for _, t := range tt.desc {
			unique[t] = struct{}{}
		}
		for t := range unique {
			docFreq[t]++
		}
	}
	k.idf = make(map[string]float64, len(docFreq))
	for term, df := range docFreq {
		k.idf[term] = math.Log(float64(len(tools)+1)/float64(df+1)) + 1.0
	}
}

func (k *KeywordRetriever) Retrieve(_ context.Context, rc Context, candidates []*mcp.Tool) ([]Scored, error) {
	k.mu.Lock()
	rebuild := len(k.tokens) != len(candidates)
	for _, tool := range candidates {
		if _, ok := k.tokens[tool.Name]; !ok {
			rebuild = true
			break
		}
	}
	if rebuild {
		k.mu.Unlock()
		k.Rebuild(candidates)
		k.mu.Lock()
	}
	queryTokens := tokenize(rc.Query)

	scored := make([]Scored, 0, len(candidates))
	for _, tool := range candidates {
		tt, ok := k.tokens[tool.Name]
		if !ok {
			tt = toolTokens{name: tokenize(tool.Name), desc: tokenize(tool.Description)}
		}
		score := 0.5
		if len(queryTokens) > 0 {
			nameScore := k.scoreTokens(queryTokens, tt.name)
			descScore := k.scoreTokens(queryTokens, tt.desc)
			score = (nameWeight*nameScore + descScore) / (nameWeight + 1.0)
		}
		scored = append(scored, Scored{Tool: tool, Score: score})
	}
	k.mu.Unlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k.topK() {
		scored = scored[:k.topK()]
	}
	return scored, nil
}

func (k *KeywordRetriever) scoreTokens(query, doc []string) float64 {
	if len(doc) == 0 || len(query) == 0 {
		return 0
	}
	tf := make(map[string]int, len(doc))
	for _, t := range doc {
		tf[t]++
	}
	var score, maxPossible float64
	for _, qt := range query {
		idf, ok := k.idf[qt]
		if !ok {
			idf = 1.0
		}
		maxPossible += idf
		if n, ok := tf[qt]; ok {
			score += float64(n) / float64(len(doc)) * idf
		}
	}
	if maxPossible > 0 {
		score /= maxPossible
	}
	return math.Min(score, 1.0)
}
