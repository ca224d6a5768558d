package retrieval

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"paklaw.com/paklaw-assist/internal/utils"
)

// Normalizer is the text pipeline applied to topics and queries alike.
type Normalizer interface {
	Normalize(text string) string
}

// termPattern keeps runs of two or more word characters.
var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Index is an immutable TF-IDF vector space over the normalized corpus topics.
// Query-time terms outside the vocabulary carry no weight.
type Index struct {
	entries    []Entry
	normalizer Normalizer
	vocab      map[string]int
	idf        []float64
	docs       []utils.SparseVector
}

// BuildIndex normalizes every topic and fits smoothed IDF weights
// (ln((1+n)/(1+df)) + 1) with L2-normalized document vectors.
func BuildIndex(entries []Entry, normalizer Normalizer) (*Index, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCorpus
	}

	terms := make([][]string, len(entries))
	vocab := make(map[string]int)
	var df []int
	for i, e := range entries {
		terms[i] = tokenize(normalizer.Normalize(e.Topic))
		seen := make(map[int]bool)
		for _, term := range terms[i] {
			idx, ok := vocab[term]
			if !ok {
				idx = len(vocab)
				vocab[term] = idx
				df = append(df, 0)
			}
			if !seen[idx] {
				seen[idx] = true
				df[idx]++
			}
		}
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("empty vocabulary: every topic normalized to no terms")
	}

	n := float64(len(entries))
	idf := make([]float64, len(vocab))
	for i, d := range df {
		idf[i] = math.Log((1+n)/(1+float64(d))) + 1
	}

	ix := &Index{
		entries:    append([]Entry(nil), entries...),
		normalizer: normalizer,
		vocab:      vocab,
		idf:        idf,
		docs:       make([]utils.SparseVector, len(entries)),
	}
	for i, t := range terms {
		ix.docs[i] = ix.weigh(t)
	}
	return ix, nil
}

func tokenize(normalized string) []string {
	return termPattern.FindAllString(strings.ToLower(normalized), -1)
}

func (ix *Index) weigh(terms []string) utils.SparseVector {
	vec := make(utils.SparseVector)
	for _, term := range terms {
		if idx, ok := ix.vocab[term]; ok {
			vec[idx]++
		}
	}
	for idx := range vec {
		vec[idx] *= ix.idf[idx]
	}
	return utils.Normalize(vec)
}

// Query returns the best matching entry index and its cosine score in [0,1].
// Ties keep the earliest entry; a query with no known terms scores 0 against
// entry 0.
func (ix *Index) Query(text string) (int, float64) {
	q := ix.weigh(tokenize(ix.normalizer.Normalize(text)))

	best, bestScore := 0, 0.0
	for i, doc := range ix.docs {
		score := utils.CosineSimilarity(q, doc)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, math.Min(bestScore, 1)
}

func (ix *Index) Entry(i int) Entry { return ix.entries[i] }

func (ix *Index) Len() int { return len(ix.entries) }

// VocabularySize is the number of distinct terms seen in the corpus.
func (ix *Index) VocabularySize() int { return len(ix.vocab) }
