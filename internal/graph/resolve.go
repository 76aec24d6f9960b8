// Package graph maintains the entity knowledge graph: canonical node
// resolution and the document-entity edges the historical context
// retriever walks.
package graph

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sn3fru/silvanews-sub001/internal/config"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

// Resolver maps surface forms to canonical entities. Resolution order:
// curated alias table, exact (name, type) match, trigram fuzzy match
// within the same type, then a new node.
type Resolver struct {
	store     *store.Store
	aliases   *config.AliasTable
	threshold float64

	titleCaser cases.Caser
	deaccenter transform.Transformer
}

// NewResolver builds a resolver. aliases may be nil.
func NewResolver(st *store.Store, aliases *config.AliasTable, trigramThreshold float64) *Resolver {
	return &Resolver{
		store:      st,
		aliases:    aliases,
		threshold:  trigramThreshold,
		titleCaser: cases.Title(language.Und, cases.NoLower),
		deaccenter: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}
}

// Resolution is the outcome of resolving one surface form.
type Resolution struct {
	Entity  *model.Entity
	Created bool
	// Alias is the surface form to record on the node when it differs
	// from the canonical name.
	Alias string
}

// Resolve finds or creates the canonical entity for a surface form.
// newID supplies the ID should a new node be needed.
func (r *Resolver) Resolve(surface string, typ model.EntityType, newID string) (*Resolution, error) {
	canonical := r.Canonicalize(surface)
	if canonical == "" {
		return nil, nil
	}

	alias := ""
	if mapped := r.aliasLookup(surface); mapped != "" {
		if mapped != canonical {
			alias = canonical
		}
		canonical = mapped
	}

	if found, err := r.store.FindEntity(canonical, typ); err != nil {
		return nil, err
	} else if found != nil {
		return &Resolution{Entity: found, Alias: aliasFor(found, surface, alias)}, nil
	}

	// Fuzzy pass over same-type nodes. Trigram similarity tolerates
	// suffix noise ("Acme Corp" vs "Acme Corporation") without collapsing
	// genuinely distinct names.
	all, err := r.store.AllEntities()
	if err != nil {
		return nil, err
	}
	key := r.matchKey(canonical)
	var best *model.Entity
	bestSim := 0.0
	for i := range all {
		if all[i].Type != typ {
			continue
		}
		sim := TrigramSimilarity(key, r.matchKey(all[i].CanonicalName))
		if sim >= r.threshold && sim > bestSim {
			best, bestSim = &all[i], sim
		}
	}
	if best != nil {
		return &Resolution{Entity: best, Alias: aliasFor(best, surface, canonical)}, nil
	}

	e := model.Entity{
		ID:            newID,
		CanonicalName: canonical,
		Type:          typ,
	}
	if err := r.store.InsertEntity(e); err != nil {
		return nil, err
	}
	return &Resolution{Entity: &e, Created: true, Alias: aliasFor(&e, surface, "")}, nil
}

// Canonicalize normalizes a surface form into canonical shape: trimmed,
// diacritics preserved in the stored name but whitespace collapsed, and
// shouty all-caps names title-cased.
func (r *Resolver) Canonicalize(surface string) string {
	s := strings.Join(strings.Fields(surface), " ")
	if s == "" {
		return ""
	}
	if isAllUpper(s) && len([]rune(s)) > 4 {
		s = r.titleCaser.String(strings.ToLower(s))
	}
	return s
}

// matchKey is the fuzzy comparison form: lowercased, diacritics stripped.
func (r *Resolver) matchKey(s string) string {
	out, _, err := transform.String(r.deaccenter, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func (r *Resolver) aliasLookup(surface string) string {
	if r.aliases == nil {
		return ""
	}
	return r.aliases.Canonical(surface)
}

// aliasFor picks the surface form worth recording on the node.
func aliasFor(e *model.Entity, surface, extra string) string {
	surface = strings.Join(strings.Fields(surface), " ")
	if surface != "" && surface != e.CanonicalName {
		return surface
	}
	if extra != "" && extra != e.CanonicalName {
		return extra
	}
	return ""
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// TrigramSimilarity is the Jaccard similarity of the character trigram
// sets of a and b. Inputs shorter than three runes compare by equality.
func TrigramSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}
	inter := 0
	for g := range ta {
		if tb[g] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func trigrams(s string) map[string]bool {
	runes := []rune("  " + s + " ")
	out := make(map[string]bool, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = true
	}
	return out
}
