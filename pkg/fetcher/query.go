package fetcher

import (
	"strings"

	"github.com/Sternrassler/celebwire/pkg/roster"
)

// maxQueryLength is the API's documented limit for the q parameter.
const maxQueryLength = 500

// BuildQuery joins the search terms of all batch entities into a single
// disjunctive query. Multi-word terms are quoted for exact-phrase matching.
// Terms that would push the query past the API's length limit are dropped
// from the end; every entity's primary name is added before any aliases so
// truncation costs aliases first.
func BuildQuery(entities []roster.Entity) string {
	var names, aliases []string
	for _, e := range entities {
		terms := e.SearchTerms()
		if len(terms) == 0 {
			continue
		}
		names = append(names, quoteTerm(terms[0]))
		for _, alias := range terms[1:] {
			aliases = append(aliases, quoteTerm(alias))
		}
	}

	var b strings.Builder
	for _, term := range append(names, aliases...) {
		addition := len(term)
		if b.Len() > 0 {
			addition += len(" OR ")
		}
		if b.Len()+addition > maxQueryLength {
			break
		}
		if b.Len() > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString(term)
	}
	return b.String()
}

// quoteTerm wraps multi-word terms in quotes.
func quoteTerm(term string) string {
	if strings.ContainsAny(term, " \t") {
		return `"` + term + `"`
	}
	return term
}
