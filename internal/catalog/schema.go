package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"storefront-service/internal/models"

	"github.com/shopspring/decimal"
)

// Entity identifies a CRM entity. The remote item store addresses its tables
// and columns by numeric ids; everything below pins those ids in one place so
// typed records, not string-keyed maps, travel through business logic.
type Entity int

const (
	EntityProducts   Entity = 26
	EntityOrders     Entity = 27
	EntityOrderItems Entity = 28
	EntityClients    Entity = 29
)

// Product field ids in the item store.
const (
	fieldProductArticle     = 221
	fieldProductBoxSize     = 222
	fieldProductName        = 224
	fieldProductMinUnit     = 306
	fieldProductPackageSize = 383
	fieldProductPrice       = 401
	fieldProductDiscounted  = 402
	fieldProductTax         = 403
)

// Product is the typed catalog record, authoritative for pricing and tax.
// Values arriving from a client request never replace these.
type Product struct {
	ID              int64           `json:"id"`
	Article         string          `json:"article"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	TaxClass        string          `json:"tax_class"`
	BoxSize         int64           `json:"box_size"`
	PackageSize     int64           `json:"package_size"`
	MinUnit         float64         `json:"min_unit"`
}

// rawItem is one record as the item store returns it: field values keyed by
// "field_<id>", loosely typed.
type rawItem map[string]json.RawMessage

func (r rawItem) id() (int64, error) {
	return r.int64Of("id")
}

func (r rawItem) field(id int) string {
	return r.stringOf(fmt.Sprintf("field_%d", id))
}

func (r rawItem) stringOf(key string) string {
	raw, ok := r[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

func (r rawItem) int64Of(key string) (int64, error) {
	s := r.stringOf(key)
	if s == "" {
		return 0, fmt.Errorf("missing field %s", key)
	}
	return strconv.ParseInt(s, 10, 64)
}

// decodeProduct validates a raw item-store record and lifts it into the typed
// Product schema. Decoding failures on money fields are hard errors; sizing
// fields fall back to safe defaults.
func decodeProduct(r rawItem) (Product, error) {
	id, err := r.id()
	if err != nil {
		return Product{}, fmt.Errorf("product record without id: %w", err)
	}

	price, err := decimal.NewFromString(nonEmpty(r.field(fieldProductPrice), "0"))
	if err != nil {
		return Product{}, fmt.Errorf("product %d: bad price: %w", id, err)
	}
	discounted, err := decimal.NewFromString(nonEmpty(r.field(fieldProductDiscounted), "0"))
	if err != nil {
		return Product{}, fmt.Errorf("product %d: bad discounted price: %w", id, err)
	}
	if discounted.IsZero() {
		discounted = price
	}

	boxSize, _ := strconv.ParseInt(nonEmpty(r.field(fieldProductBoxSize), "1"), 10, 64)
	if boxSize <= 0 {
		boxSize = 1
	}
	packageSize, _ := strconv.ParseInt(nonEmpty(r.field(fieldProductPackageSize), "1"), 10, 64)
	if packageSize <= 0 {
		packageSize = 1
	}
	minUnit, _ := strconv.ParseFloat(nonEmpty(r.field(fieldProductMinUnit), "1"), 64)
	if minUnit <= 0 {
		minUnit = 1
	}

	return Product{
		ID:              id,
		Article:         r.field(fieldProductArticle),
		Name:            r.field(fieldProductName),
		Price:           price,
		DiscountedPrice: discounted,
		TaxClass:        taxClassOf(r.field(fieldProductTax)),
		BoxSize:         boxSize,
		PackageSize:     packageSize,
		MinUnit:         minUnit,
	}, nil
}

func taxClassOf(raw string) string {
	switch strings.TrimSpace(raw) {
	case "10", "10%":
		return models.TaxClassVat10
	case "20", "20%":
		return models.TaxClassVat20
	default:
		return models.TaxClassNone
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
