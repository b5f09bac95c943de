package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"kyte-estimates/internal/catalog"
	"kyte-estimates/internal/models"
	"kyte-estimates/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	leadingQtyPattern  = regexp.MustCompile(`(?i)^\s*(\d{1,4})\s*(?:x|×|\*|un\.?|und\.?|unid\.?|pcs?\.?)?\s+`)
	prefixQtyPattern   = regexp.MustCompile(`(?i)^\s*[x×]\s*(\d{1,4})\s+`)
	labelledSKUPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:sku(?:\s*[:#]\s*|\s+)|(?:ref|c[oó]d(?:igo)?)\s*[:#]\s*)([\p{L}\p{N}][\p{L}\p{N}_./-]*)`)
	labelledBarcodePat = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:ean(?:-?13|-?8)?|gtin|upc|barcode|c[oó]d(?:igo)?\s+de\s+barras)\s*[:#]?\s*(\d{6,14})`)
	bareBarcodePattern = regexp.MustCompile(`(?:^|\D)(\d{8}|\d{12,14})(?:\D|$)`)
)

// CatalogSnapshotter hands out a tenant's current catalog index
type CatalogSnapshotter interface {
	Snapshot(ctx context.Context, companyID string) (*catalog.Index, error)
}

// Matcher resolves free-text order lines against the catalog
type Matcher struct {
	catalog CatalogSnapshotter
	logger  *zap.Logger
}

// NewMatcher creates a new line item matcher
func NewMatcher(catalog CatalogSnapshotter) *Matcher {
	return &Matcher{
		catalog: catalog,
		logger:  util.GetLogger().Named("matcher"),
	}
}

// Match resolves every line of an order against one catalog snapshot.
// Unmatched lines are data, not errors; the error is for catalog failures only.
func (m *Matcher) Match(ctx context.Context, companyID string, order models.Order) (models.MatchedOrder, error) {
	ctx, span := util.StartSpan(ctx, "Matcher.Match",
		attribute.String("company_id", companyID),
		attribute.String("order_number", order.OrderNumber))
	defer span.End()

	idx, err := m.catalog.Snapshot(ctx, companyID)
	if err != nil {
		util.RecordError(span, err)
		return models.MatchedOrder{}, err
	}

	matched := models.MatchedOrder{
		Order: order,
		Items: make([]models.MatchedLineItem, 0, len(order.Lines)),
		State: models.OrderStateMatched,
	}
	for i, line := range order.Lines {
		item := MatchLine(idx, i+1, line)
		util.LinesMatchedTotal.WithLabelValues(string(item.Reason)).Inc()
		if !item.Matched {
			matched.State = models.OrderStatePartiallyUnmatched
		}
		matched.Items = append(matched.Items, item)
	}

	m.logger.Debug("Order matched",
		zap.String("company_id", companyID),
		zap.String("order_number", order.OrderNumber),
		zap.String("state", string(matched.State)),
		zap.Int("lines", len(matched.Items)))
	return matched, nil
}

// MatchLine resolves a single line. Lookup order: labelled SKU, labelled
// barcode, bare barcodes, any token as SKU, then the name. A labelled
// identifier that resolves to nothing leaves the line unmatched.
func MatchLine(idx *catalog.Index, lineNo int, line models.RawOrderLine) models.MatchedLineItem {
	text := line.Description
	if strings.TrimSpace(text) == "" {
		text = line.RawText
	}

	qty, nameText, qtyFromText := parseQuantity(line.Quantity, text)
	if qtyFromText {
		text = nameText
	}
	item := models.MatchedLineItem{
		Line:        lineNo,
		Quantity:    qty,
		Description: line.Description,
		RawText:     line.RawText,
		Reason:      models.MatchReasonNotFound,
	}

	labelledSKUs := submatches(labelledSKUPattern, text)
	labelledBarcodes := submatches(labelledBarcodePat, text)

	for _, sku := range labelledSKUs {
		if p, reason, ok := idx.Lookup(catalog.Query{SKU: sku}); ok || reason == models.MatchReasonAmbiguous {
			return resolve(item, p, reason, ok)
		}
	}
	for _, code := range labelledBarcodes {
		if p, reason, ok := idx.Lookup(catalog.Query{Barcode: code}); ok || reason == models.MatchReasonAmbiguous {
			return resolve(item, p, reason, ok)
		}
	}
	if len(labelledSKUs) > 0 || len(labelledBarcodes) > 0 {
		item.Reason = models.MatchReasonIdentifierNotFound
		return item
	}

	for _, code := range submatches(bareBarcodePattern, text) {
		if p, reason, ok := idx.Lookup(catalog.Query{Barcode: code}); ok {
			return resolve(item, p, reason, ok)
		}
	}
	for _, token := range skuCandidates(text) {
		if p, reason, ok := idx.Lookup(catalog.Query{SKU: token}); ok {
			return resolve(item, p, reason, ok)
		}
	}

	p, reason, ok := idx.Lookup(catalog.Query{Name: stripIdentifiers(nameText)})
	return resolve(item, p, reason, ok)
}

func resolve(item models.MatchedLineItem, p models.Product, reason models.MatchReason, ok bool) models.MatchedLineItem {
	item.Reason = reason
	if !ok {
		return item
	}

	id := p.ID
	sku := p.SKU
	barcode := p.Barcode
	external := p.ExternalItemID
	price := p.UnitPrice
	tax := p.TaxCode

	item.ProductID = &id
	item.SKU = &sku
	item.Barcode = &barcode
	item.ExternalItemID = &external
	item.UnitPrice = &price
	item.TaxCode = &tax
	item.Matched = true
	return item
}

// parseQuantity returns the explicit quantity when set, else a leading
// quantity token, else 1. rest is the text without any leading quantity-like
// token; fromText reports whether that token became the quantity. A token that
// did not may still be a SKU.
func parseQuantity(explicit int, text string) (qty int, rest string, fromText bool) {
	qty = explicit
	rest = text
	for _, pattern := range []*regexp.Regexp{leadingQtyPattern, prefixQtyPattern} {
		m := pattern.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		if qty < 1 {
			if n, err := strconv.Atoi(text[m[2]:m[3]]); err == nil && n > 0 {
				qty = n
				fromText = true
			}
		}
		rest = text[m[1]:]
		break
	}
	if qty < 1 {
		qty = 1
	}
	return qty, strings.TrimSpace(rest), fromText
}

func submatches(pattern *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		v := strings.TrimRight(m[1], "._/-")
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// skuCandidates returns every token of the text for an exact SKU lookup.
// Code-like tokens (letters and digits) come first, then words of three or
// more runes, then short tokens; each group keeps text order.
func skuCandidates(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`,;()[]{}|"'`, r)
	})

	var codeLike, plain, short []string
	seen := map[string]struct{}{}
	for _, f := range fields {
		token := strings.Trim(f, ".:#-_/")
		key := catalog.NormalizeCode(token)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		switch {
		case looksLikeCode(token):
			codeLike = append(codeLike, token)
		case len([]rune(token)) >= 3:
			plain = append(plain, token)
		default:
			short = append(short, token)
		}
	}
	return append(append(codeLike, plain...), short...)
}

func looksLikeCode(token string) bool {
	hasLetter, hasDigit := false, false
	for _, r := range token {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// stripIdentifiers removes identifier markup so only the product name is searched
func stripIdentifiers(text string) string {
	text = labelledSKUPattern.ReplaceAllString(text, " ")
	text = labelledBarcodePat.ReplaceAllString(text, " ")
	text = bareBarcodePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// describeUnmatched renders the unmatched lines of an order for callers
func describeUnmatched(order models.MatchedOrder) string {
	unmatched := order.Unmatched()
	if len(unmatched) == 0 {
		return ""
	}
	return fmt.Sprint(&models.UnmatchedLineError{OrderNumber: order.OrderNumber, Lines: unmatched})
}
