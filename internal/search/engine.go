// Package search implements the per-session BM25 full-text engine from
// spec §4.6: Okapi BM25 with k1=1.2, b=0.75, a documents map keyed by
// message id, and a full rebuild on every add_documents call. Ported from
// the runtime's search/message_index.rs, substituting its Rust `bm25` crate
// (Embedder/Scorer) with a hand-rolled scorer — no pack repo or
// other_examples/ file imports a BM25 library for Go, so this is one of the
// few components built on first principles rather than a ported
// third-party call (see DESIGN.md).
package search

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agentrt/toolrt/internal/config"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Document is the data-model record indexed by the engine.
type Document struct {
	ID        string
	SessionID string
	Content   string
	CreatedAt int64
}

// Result is one scored hit returned by Search.
type Result struct {
	MessageID string
	SessionID string
	Score     float64
	Snippet   string
	CreatedAt int64
}

// Engine is a per-session BM25 index. Not safe for concurrent use without
// external locking; callers serialize access per session (spec §4.6 treats
// the engine itself as a single-threaded collaborator of the broker).
type Engine struct {
	sessionID string
	maxDocs   int

	documents map[string]Document
	termFreqs map[string]map[string]int // docID -> term -> count
	docLen    map[string]int
	docFreq   map[string]int // term -> number of docs containing it
	avgDocLen float64
}

// New creates an engine for sessionID. maxDocs == 0 means unbounded.
func New(sessionID string, maxDocs int) *Engine {
	if maxDocs == 0 {
		maxDocs = int(^uint(0) >> 1) // max int, mirrors usize::MAX semantics
	}
	return &Engine{
		sessionID: sessionID,
		maxDocs:   maxDocs,
		documents: make(map[string]Document),
		termFreqs: make(map[string]map[string]int),
		docLen:    make(map[string]int),
		docFreq:   make(map[string]int),
	}
}

// MaxDocsFromEnv mirrors the original's max_docs_from_env: reads
// TOOLRT_MESSAGE_INDEX_MAX_DOCS (via internal/config), defaulting to 10000
// when unset, invalid, or non-positive.
func MaxDocsFromEnv() int {
	v := config.MessageIndexMaxDocs()
	if v <= 0 {
		return config.DefaultMessageIndexMaxDocs
	}
	return v
}

// SessionID returns the session this engine indexes.
func (e *Engine) SessionID() string { return e.sessionID }

// DocCount returns the number of documents currently indexed.
func (e *Engine) DocCount() int { return len(e.documents) }

// AddDocuments upserts documents by id, evicts down to maxDocs keeping the
// most recently created, and rebuilds the index from scratch.
func (e *Engine) AddDocuments(docs []Document) {
	if len(docs) == 0 {
		return
	}

	for _, d := range docs {
		e.documents[d.ID] = d
	}

	if len(e.documents) > e.maxDocs {
		all := make([]Document, 0, len(e.documents))
		for _, d := range e.documents {
			all = append(all, d)
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].CreatedAt != all[j].CreatedAt {
				return all[i].CreatedAt > all[j].CreatedAt
			}
			return all[i].ID > all[j].ID
		})
		all = all[:e.maxDocs]

		e.documents = make(map[string]Document, len(all))
		for _, d := range all {
			e.documents[d.ID] = d
		}
	}

	e.rebuildIndex()
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// rebuildIndex recomputes avgdl, per-document term frequencies, and
// document frequencies from the current document set — always a full
// rebuild, never incremental, matching the original's rebuild_index.
func (e *Engine) rebuildIndex() {
	e.termFreqs = make(map[string]map[string]int, len(e.documents))
	e.docLen = make(map[string]int, len(e.documents))
	e.docFreq = make(map[string]int)

	if len(e.documents) == 0 {
		e.avgDocLen = 0
		return
	}

	var totalLen int
	for id, doc := range e.documents {
		tokens := tokenize(doc.Content)
		e.docLen[id] = len(tokens)
		totalLen += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		e.termFreqs[id] = tf

		for t := range tf {
			e.docFreq[t]++
		}
	}

	e.avgDocLen = float64(totalLen) / float64(len(e.documents))
}

// Search returns documents matching query, scored by BM25 and sorted
// descending by score (ties broken by newer created_at). Empty or
// whitespace-only queries return no results.
func (e *Engine) Search(query string, limit int) []Result {
	if strings.TrimSpace(query) == "" || len(e.documents) == 0 {
		return nil
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	n := float64(len(e.documents))
	results := make([]Result, 0, len(e.documents))

	for id, doc := range e.documents {
		score := e.scoreDocument(id, queryTerms, n)
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			MessageID: doc.ID,
			SessionID: doc.SessionID,
			Score:     score,
			Snippet:   ExtractSnippet(doc.Content, query),
			CreatedAt: doc.CreatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// scoreDocument computes the Okapi BM25 score for a single document
// against the tokenized query.
func (e *Engine) scoreDocument(docID string, queryTerms []string, n float64) float64 {
	tf := e.termFreqs[docID]
	dl := float64(e.docLen[docID])

	var score float64
	for _, term := range queryTerms {
		freq := float64(tf[term])
		if freq == 0 {
			continue
		}
		df := float64(e.docFreq[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		numerator := freq * (k1 + 1)
		denominator := freq + k1*(1-b+b*(dl/e.avgDocLen))
		score += idf * (numerator / denominator)
	}
	return score
}

// ExtractSnippet returns a ~200-character window of content centered on
// the first occurrence of any query term, prefixed/suffixed with "..." if
// truncated. Ported verbatim from the original's extract_snippet.
func ExtractSnippet(content, query string) string {
	snippetLen := config.SnippetLength()
	if snippetLen <= 0 {
		snippetLen = config.DefaultSnippetLength
	}

	contentLower := strings.ToLower(content)
	queryLower := strings.ToLower(query)

	matchPos := -1
	for _, term := range strings.Fields(queryLower) {
		if pos := strings.Index(contentLower, term); pos >= 0 {
			matchPos = pos
			break
		}
	}

	startPos := 0
	if matchPos >= 0 {
		startPos = matchPos - snippetLen/2
		if startPos < 0 {
			startPos = 0
		}
	}

	endPos := startPos + snippetLen
	if endPos > len(content) {
		endPos = len(content)
	}

	snippet := content[startPos:endPos]
	if startPos > 0 {
		snippet = "..." + snippet
	}
	if endPos < len(content) {
		snippet = snippet + "..."
	}
	return snippet
}
