package retrieval

import "strings"

const (
	DefaultThreshold    = 0.3
	NotAvailableMessage = "Sorry, this topic is not available offline."
)

// Match is a corpus hit that cleared the responder threshold.
type Match struct {
	Entry Entry
	Index int
	Score float64
}

// Responder answers from the corpus when a query is similar enough to a topic.
type Responder struct {
	index     *Index
	threshold float64
}

func NewResponder(index *Index, threshold float64) *Responder {
	return &Responder{index: index, threshold: threshold}
}

// Lookup returns the best match when its score is strictly above the threshold.
func (r *Responder) Lookup(text string) (Match, bool) {
	if strings.TrimSpace(text) == "" {
		return Match{}, false
	}
	idx, score := r.index.Query(text)
	if score <= r.threshold {
		return Match{Index: idx, Score: score}, false
	}
	return Match{Entry: r.index.Entry(idx), Index: idx, Score: score}, true
}

// Respond returns the matched entry's details verbatim, or NotAvailableMessage.
func (r *Responder) Respond(text string) string {
	if m, ok := r.Lookup(text); ok {
		return m.Entry.Details
	}
	return NotAvailableMessage
}
