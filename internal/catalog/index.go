package catalog

import (
	"sort"

	"kyte-estimates/internal/models"
)

// Query carries the identifiers and name extracted from one order line.
// When SKU or Barcode is set the name is ignored.
type Query struct {
	SKU     string
	Barcode string
	Name    string
}

// Index is an immutable lookup snapshot of one tenant's catalog.
// It is safe for concurrent use without locking.
type Index struct {
	companyID string
	products  []models.Product
	normNames []string
	bySKU     map[string][]int
	byBarcode map[string][]int
	byToken   map[string][]int
}

// BuildIndex builds a snapshot; products are ordered by ID so that every
// candidate scan is deterministic.
func BuildIndex(companyID string, products []models.Product) *Index {
	sorted := make([]models.Product, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	idx := &Index{
		companyID: companyID,
		products:  sorted,
		normNames: make([]string, len(sorted)),
		bySKU:     map[string][]int{},
		byBarcode: map[string][]int{},
		byToken:   map[string][]int{},
	}

	for i, p := range sorted {
		if code := NormalizeCode(p.SKU); code != "" {
			idx.bySKU[code] = append(idx.bySKU[code], i)
		}
		if code := NormalizeCode(p.Barcode); code != "" {
			idx.byBarcode[code] = append(idx.byBarcode[code], i)
		}

		idx.normNames[i] = Normalize(p.Name)
		seen := map[string]struct{}{}
		for _, token := range Tokenize(p.Name) {
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			idx.byToken[token] = append(idx.byToken[token], i)
		}
	}

	return idx
}

// CompanyID returns the tenant the snapshot belongs to
func (idx *Index) CompanyID() string {
	return idx.companyID
}

// Len returns the number of products in the snapshot
func (idx *Index) Len() int {
	return len(idx.products)
}

// Lookup resolves a query to a single product.
// SKU wins over barcode, barcode over name. A query that carries an identifier
// never falls back to the name.
func (idx *Index) Lookup(q Query) (models.Product, models.MatchReason, bool) {
	if code := NormalizeCode(q.SKU); code != "" {
		if p, reason, ok := idx.byIdentifier(idx.bySKU[code], models.MatchReasonSKU); ok || reason == models.MatchReasonAmbiguous {
			return p, reason, ok
		}
		if NormalizeCode(q.Barcode) == "" {
			return models.Product{}, models.MatchReasonIdentifierNotFound, false
		}
	}

	if code := NormalizeCode(q.Barcode); code != "" {
		if p, reason, ok := idx.byIdentifier(idx.byBarcode[code], models.MatchReasonBarcode); ok || reason == models.MatchReasonAmbiguous {
			return p, reason, ok
		}
		return models.Product{}, models.MatchReasonIdentifierNotFound, false
	}

	return idx.byName(q.Name)
}

func (idx *Index) byIdentifier(positions []int, reason models.MatchReason) (models.Product, models.MatchReason, bool) {
	switch len(positions) {
	case 0:
		return models.Product{}, models.MatchReasonNotFound, false
	case 1:
		return idx.products[positions[0]], reason, true
	}

	active := idx.preferActive(positions)
	if len(active) == 1 {
		return idx.products[active[0]], reason, true
	}
	return models.Product{}, models.MatchReasonAmbiguous, false
}

// byName collects every product whose full name appears in the query, then
// prefers active products and the smallest edit distance. A tie is no match.
func (idx *Index) byName(name string) (models.Product, models.MatchReason, bool) {
	query := Normalize(name)
	if query == "" {
		return models.Product{}, models.MatchReasonNotFound, false
	}

	queryTokens := map[string]struct{}{}
	for _, t := range Tokenize(query) {
		queryTokens[t] = struct{}{}
	}

	seen := map[int]struct{}{}
	var candidates []int
	for token := range queryTokens {
		for _, pos := range idx.byToken[token] {
			if _, ok := seen[pos]; ok {
				continue
			}
			seen[pos] = struct{}{}
			if containsAll(queryTokens, Tokenize(idx.normNames[pos])) {
				candidates = append(candidates, pos)
			}
		}
	}
	if len(candidates) == 0 {
		return models.Product{}, models.MatchReasonNotFound, false
	}
	sort.Ints(candidates)

	candidates = idx.preferActive(candidates)

	best := -1
	bestDist := -1
	tie := false
	for _, pos := range candidates {
		d := Levenshtein(query, idx.normNames[pos])
		switch {
		case best == -1 || d < bestDist:
			best, bestDist, tie = pos, d, false
		case d == bestDist:
			tie = true
		}
	}
	if tie {
		return models.Product{}, models.MatchReasonAmbiguous, false
	}
	return idx.products[best], models.MatchReasonName, true
}

// preferActive drops archived products unless every candidate is archived
func (idx *Index) preferActive(positions []int) []int {
	active := make([]int, 0, len(positions))
	for _, pos := range positions {
		if !idx.products[pos].Archived {
			active = append(active, pos)
		}
	}
	if len(active) == 0 {
		return positions
	}
	return active
}

func containsAll(set map[string]struct{}, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
