// Package platforms holds the per-platform report mapping tables. A mapping
// declares how one (platform, reportType) pair's columns translate into the
// canonical sales or ads schema, including date layout and unit scale, so the
// normalizer stays uniform over configuration instead of branching per source.
package platforms

import "fmt"

// Platform identifiers.
const (
	AmazonSP   = "amazon-sp"
	AmazonAds  = "amazon-ads"
	Walmart    = "walmart"
	WalmartAds = "walmart-ads"
)

// Report types requested by the daily run.
const (
	ReportSalesAndTraffic  = "GET_SALES_AND_TRAFFIC_REPORT"
	ReportFBARefunds       = "GET_FBA_REFUNDS_REPORT"
	ReportSponsoredProduct = "SP_ADVERTISED_PRODUCT_REPORT"
	ReportWalmartSales     = "WALMART_SALES_REPORT"
	ReportWalmartAds       = "WALMART_AD_PERFORMANCE_REPORT"
)

type RecordKind string

const (
	KindSales RecordKind = "sales"
	KindAds   RecordKind = "ads"
)

// Canonical field names the normalizer understands. Sales and ads fields are
// disjoint sets; a mapping only references fields of its own kind.
const (
	FieldTotalOrders   = "total_orders"
	FieldTotalRevenue  = "total_revenue"
	FieldUnitsSold     = "units_sold"
	FieldRefundsAmount = "refunds_amount"
	FieldOrganicSales  = "organic_sales"
	FieldPromotedSales = "promoted_sales"

	FieldAdSpend     = "ad_spend"
	FieldAdSales     = "ad_sales"
	FieldAdOrders    = "ad_orders"
	FieldImpressions = "impressions"
	FieldClicks      = "clicks"
)

// FieldSpec binds one canonical field to a source column.
type FieldSpec struct {
	Canonical string
	Column    string
	Required  bool
	Monetary  bool // monetary columns are multiplied by the mapping's AmountScale
}

// ReportMapping is the full declarative recipe for one report type.
type ReportMapping struct {
	Platform   string
	ReportType string
	Kind       RecordKind

	// DeclaredFormat is the content type the platform advertises for this
	// report's payload; the decoder uses it before falling back to sniffing.
	DeclaredFormat string

	DateColumn string
	DateLayout string

	// MarketplaceColumn is optional; DefaultMarketplace applies when the
	// column is absent or empty.
	MarketplaceColumn  string
	DefaultMarketplace string

	// AmountScale converts source monetary values into major currency units,
	// e.g. 0.01 for platforms reporting minor-unit integer cents.
	AmountScale float64

	Fields []FieldSpec
}

var registry = map[string]map[string]ReportMapping{
	AmazonSP: {
		ReportSalesAndTraffic: {
			Platform:           AmazonSP,
			ReportType:         ReportSalesAndTraffic,
			Kind:               KindSales,
			DeclaredFormat:     "text/tab-separated-values",
			DateColumn:         "Date",
			DateLayout:         "2006-01-02",
			MarketplaceColumn:  "Marketplace",
			DefaultMarketplace: "US",
			AmountScale:        1,
			Fields: []FieldSpec{
				{Canonical: FieldTotalOrders, Column: "Total Order Items", Required: true},
				{Canonical: FieldTotalRevenue, Column: "Ordered Product Sales", Required: true, Monetary: true},
				{Canonical: FieldUnitsSold, Column: "Units Ordered", Required: true},
				{Canonical: FieldOrganicSales, Column: "Organic Product Sales", Monetary: true},
				{Canonical: FieldPromotedSales, Column: "Promoted Product Sales", Monetary: true},
			},
		},
		ReportFBARefunds: {
			Platform:           AmazonSP,
			ReportType:         ReportFBARefunds,
			Kind:               KindSales,
			DeclaredFormat:     "text/tab-separated-values",
			DateColumn:         "return-date",
			DateLayout:         "2006-01-02",
			DefaultMarketplace: "US",
			AmountScale:        1,
			Fields: []FieldSpec{
				{Canonical: FieldRefundsAmount, Column: "refund-amount", Required: true, Monetary: true},
			},
		},
	},
	AmazonAds: {
		ReportSponsoredProduct: {
			Platform:           AmazonAds,
			ReportType:         ReportSponsoredProduct,
			Kind:               KindAds,
			DeclaredFormat:     "application/gzip",
			DateColumn:         "date",
			DateLayout:         "2006-01-02",
			DefaultMarketplace: "US",
			AmountScale:        1,
			Fields: []FieldSpec{
				{Canonical: FieldAdSpend, Column: "cost", Required: true, Monetary: true},
				{Canonical: FieldAdSales, Column: "sales14d", Required: true, Monetary: true},
				{Canonical: FieldAdOrders, Column: "purchases14d"},
				{Canonical: FieldImpressions, Column: "impressions", Required: true},
				{Canonical: FieldClicks, Column: "clicks", Required: true},
			},
		},
	},
	Walmart: {
		// Walmart reports monetary values as minor-unit integer cents.
		ReportWalmartSales: {
			Platform:           Walmart,
			ReportType:         ReportWalmartSales,
			Kind:               KindSales,
			DeclaredFormat:     "application/gzip",
			DateColumn:         "report_date",
			DateLayout:         "01/02/2006",
			DefaultMarketplace: "WALMART_US",
			AmountScale:        0.01,
			Fields: []FieldSpec{
				{Canonical: FieldTotalOrders, Column: "order_count", Required: true},
				{Canonical: FieldTotalRevenue, Column: "gross_revenue_cents", Required: true, Monetary: true},
				{Canonical: FieldUnitsSold, Column: "unit_count", Required: true},
				{Canonical: FieldRefundsAmount, Column: "refund_amount_cents", Monetary: true},
			},
		},
	},
	WalmartAds: {
		ReportWalmartAds: {
			Platform:           WalmartAds,
			ReportType:         ReportWalmartAds,
			Kind:               KindAds,
			DeclaredFormat:     "application/json",
			DateColumn:         "date",
			DateLayout:         "01/02/2006",
			DefaultMarketplace: "WALMART_US",
			AmountScale:        0.01,
			Fields: []FieldSpec{
				{Canonical: FieldAdSpend, Column: "ad_spend_cents", Required: true, Monetary: true},
				{Canonical: FieldAdSales, Column: "attributed_sales_cents", Required: true, Monetary: true},
				{Canonical: FieldAdOrders, Column: "orders"},
				{Canonical: FieldImpressions, Column: "num_ads_shown", Required: true},
				{Canonical: FieldClicks, Column: "num_ads_clicked", Required: true},
			},
		},
	},
}

// GetMapping resolves the mapping for a (platform, reportType) pair.
func GetMapping(platform, reportType string) (ReportMapping, error) {
	byType, ok := registry[platform]
	if !ok {
		return ReportMapping{}, fmt.Errorf("no mappings available for platform: %s", platform)
	}
	m, ok := byType[reportType]
	if !ok {
		return ReportMapping{}, fmt.Errorf("no mapping for report type %s on platform %s", reportType, platform)
	}
	return m, nil
}

// Platforms lists every configured platform id.
func Platforms() []string {
	out := make([]string, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	return out
}

// ReportTypes lists the report types configured for a platform.
func ReportTypes(platform string) []string {
	byType := registry[platform]
	out := make([]string, 0, len(byType))
	for rt := range byType {
		out = append(out, rt)
	}
	return out
}
