// Package textproc turns free text into the token form used by the offline index.
package textproc

import (
	"fmt"
	"strings"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
)

// Lemmatizer maps a word to its base form. Unknown words come back unchanged.
type Lemmatizer interface {
	Lemma(word string) string
}

// Normalizer strips punctuation, drops English stopwords and lemmatizes the
// remaining tokens. It is safe for concurrent use.
type Normalizer struct {
	lemmatizer Lemmatizer
}

// New loads the English golem dictionary.
func New() (*Normalizer, error) {
	lemmatizer, err := golem.New(en.New())
	if err != nil {
		return nil, fmt.Errorf("failed to load english lemma dictionary: %w", err)
	}
	return NewWithLemmatizer(lemmatizer), nil
}

func NewWithLemmatizer(l Lemmatizer) *Normalizer {
	return &Normalizer{lemmatizer: l}
}

// maxLemmaSteps bounds lemma chains such as "saw" -> "see".
const maxLemmaSteps = 4

// Normalize applies the pipeline to text and joins the surviving tokens with
// single spaces. Degenerate input yields "".
func (n *Normalizer) Normalize(text string) string {
	tokens := strings.Fields(StripPunctuation(text))

	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if IsStopword(tok) {
			continue
		}
		lemma := n.lemma(tok)
		// a lemma can collapse onto a stopword ("being" style forms) or carry
		// punctuation from the dictionary; neither may survive a second pass.
		lemma = StripPunctuation(lemma)
		if lemma == "" || strings.ContainsAny(lemma, " \t\n") || IsStopword(lemma) {
			continue
		}
		out = append(out, lemma)
	}
	return strings.Join(out, " ")
}

func (n *Normalizer) lemma(word string) string {
	current := word
	for i := 0; i < maxLemmaSteps; i++ {
		next := n.lemmatizer.Lemma(current)
		if next == "" || next == current {
			break
		}
		current = next
	}
	return current
}

// StripPunctuation removes ASCII punctuation characters.
func StripPunctuation(text string) string {
	return strings.Map(func(r rune) rune {
		if isASCIIPunct(r) {
			return -1
		}
		return r
	}, text)
}

func isASCIIPunct(r rune) bool {
	return (r >= '!' && r <= '/') || (r >= ':' && r <= '@') || (r >= '[' && r <= '`') || (r >= '{' && r <= '~')
}
