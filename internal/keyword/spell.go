package keyword

import (
	"sort"
	"strings"
	"sync"
)

// Suggestion is one candidate correction for a query term.
type Suggestion struct {
	Term      string
	Distance  int
	Frequency int
	Score     float64
}

// SpellChecker suggests corrections for query terms absent from the index
// term dictionary. Retrieval uses it to attach a "did you mean" query when
// lexical recall comes back thin.
type SpellChecker struct {
	dictionary     TermDictionary
	maxDistance    int
	minFreq        int
	maxSuggestions int

	mu         sync.RWMutex
	termsCache []string
	termSet    map[string]struct{}
	cacheValid bool
}

// SpellCheckerOption configures a SpellChecker.
type SpellCheckerOption func(*SpellChecker)

// WithMaxDistance sets the maximum edit distance for suggestions.
func WithMaxDistance(d int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMinFrequency sets the minimum document frequency for suggestions.
// Rarer terms are likely noise and are ignored.
func WithMinFrequency(f int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if f >= 0 {
			s.minFreq = f
		}
	}
}

// WithMaxSuggestions caps suggestions per term.
func WithMaxSuggestions(n int) SpellCheckerOption {
	return func(s *SpellChecker) {
		if n > 0 {
			s.maxSuggestions = n
		}
	}
}

// NewSpellChecker creates a SpellChecker over the given term dictionary.
func NewSpellChecker(dict TermDictionary, opts ...SpellCheckerOption) *SpellChecker {
	s := &SpellChecker{
		dictionary:     dict,
		maxDistance:    2,
		minFreq:        1,
		maxSuggestions: 5,
		termSet:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshCache reloads the term dictionary. Call after heavy indexing; the
// cache is also populated lazily on first use.
func (s *SpellChecker) RefreshCache() error {
	terms, err := s.dictionary.GetAllTerms()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.termsCache = terms
	s.termSet = make(map[string]struct{}, len(terms))
	for _, t := range terms {
		s.termSet[strings.ToLower(t)] = struct{}{}
	}
	s.cacheValid = true
	return nil
}

func (s *SpellChecker) ensureCache() error {
	s.mu.RLock()
	valid := s.cacheValid
	s.mu.RUnlock()
	if valid {
		return nil
	}
	return s.RefreshCache()
}

// SuggestQuery returns a corrected query when any term is misspelled, and
// ok=false when the query needs no correction (or none could be found).
func (s *SpellChecker) SuggestQuery(query string) (string, bool) {
	if err := s.ensureCache(); err != nil {
		return "", false
	}

	corrected := false
	terms := tokenizeQuery(query)
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		s.mu.RLock()
		_, exists := s.termSet[term]
		s.mu.RUnlock()
		if exists {
			out = append(out, term)
			continue
		}
		suggestions := s.Suggest(term)
		if len(suggestions) == 0 {
			out = append(out, term)
			continue
		}
		out = append(out, suggestions[0].Term)
		corrected = true
	}
	if !corrected {
		return "", false
	}
	return strings.Join(out, " "), true
}

// Suggest returns ranked corrections for a single term.
func (s *SpellChecker) Suggest(term string) []Suggestion {
	if err := s.ensureCache(); err != nil {
		return nil
	}
	term = strings.ToLower(term)

	s.mu.RLock()
	terms := s.termsCache
	s.mu.RUnlock()

	var suggestions []Suggestion
	for _, dictTerm := range terms {
		candidate := strings.ToLower(dictTerm)
		if candidate == term {
			continue
		}
		// Length gap alone can rule out a candidate.
		lenDiff := len(candidate) - len(term)
		if lenDiff < 0 {
			lenDiff = -lenDiff
		}
		if lenDiff > s.maxDistance {
			continue
		}

		distance := DamerauLevenshteinDistance(term, candidate)
		if distance > s.maxDistance {
			continue
		}
		freq, err := s.dictionary.GetTermFrequency(dictTerm)
		if err != nil || freq < s.minFreq {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Term:      dictTerm,
			Distance:  distance,
			Frequency: freq,
			Score:     (1.0 / float64(distance+1)) * float64(freq),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > s.maxSuggestions {
		suggestions = suggestions[:s.maxSuggestions]
	}
	return suggestions
}
