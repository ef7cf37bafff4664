package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
)

func cleanSales() models.SalesRecord {
	return models.SalesRecord{
		Date:         "2025-08-30",
		Marketplace:  "US",
		AccountID:    "A1",
		TotalOrders:  100,
		TotalRevenue: 8000,
		NetRevenue:   7920,
		UnitsSold:    130,
	}
}

func codes(anomalies []models.Anomaly) []string {
	out := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, a.Code)
	}
	return out
}

func TestValidateSalesCleanRecord(t *testing.T) {
	require.Empty(t, ValidateSales(cleanSales(), nil))
}

func TestValidateSalesNegativeValue(t *testing.T) {
	rec := cleanSales()
	rec.NetRevenue = -50

	anomalies := ValidateSales(rec, nil)
	require.Len(t, anomalies, 1)
	require.Equal(t, CodeNegativeValue, anomalies[0].Code)
	require.Equal(t, "net_revenue", anomalies[0].Field)
	require.Equal(t, "2025-08-30", anomalies[0].Date)
	require.Equal(t, "sales", anomalies[0].RecordKind)
}

func TestValidateSalesRefundRateOver100(t *testing.T) {
	rec := cleanSales()
	rec.RefundsAmount = 9000 // above total revenue

	anomalies := ValidateSales(rec, nil)
	require.Contains(t, codes(anomalies), CodeRefundRateOver100)
}

func TestValidateSalesDayOverDaySpike(t *testing.T) {
	rec := cleanSales()
	prior := cleanSales()
	prior.Date = "2025-08-29"
	prior.TotalRevenue = 1000
	rec.TotalRevenue = 5000 // +400% vs prior

	anomalies := ValidateSales(rec, &prior)
	require.Len(t, anomalies, 1)
	require.Equal(t, CodeDayOverDaySpike, anomalies[0].Code)
	require.Equal(t, "total_revenue", anomalies[0].Field)
}

func TestValidateSalesDayOverDayWithinLimit(t *testing.T) {
	rec := cleanSales()
	prior := cleanSales()
	prior.Date = "2025-08-29"
	prior.TotalRevenue = 2000
	rec.TotalRevenue = 8000 // exactly +300%, not a spike

	require.Empty(t, ValidateSales(rec, &prior))
}

func TestValidateSalesZeroPriorNeverSpikes(t *testing.T) {
	rec := cleanSales()
	prior := cleanSales()
	prior.Date = "2025-08-29"
	prior.TotalRevenue = 0

	require.Empty(t, ValidateSales(rec, &prior))
}

func cleanAds() models.AdsRecord {
	return models.AdsRecord{
		Date:        "2025-08-30",
		Marketplace: "US",
		AccountID:   "A1",
		AdSpend:     500,
		AdSales:     2000,
		AdOrders:    19,
		Impressions: 60000,
		Clicks:      540,
	}
}

func TestValidateAdsCleanRecord(t *testing.T) {
	require.Empty(t, ValidateAds(cleanAds(), nil))
}

func TestValidateAdsNegativeValue(t *testing.T) {
	rec := cleanAds()
	rec.AdSpend = -1

	anomalies := ValidateAds(rec, nil)
	require.Len(t, anomalies, 1)
	require.Equal(t, CodeNegativeValue, anomalies[0].Code)
	require.Equal(t, "ad_spend", anomalies[0].Field)
	require.Equal(t, "ads", anomalies[0].RecordKind)
}

func TestValidateAdsAcosRoasConsistent(t *testing.T) {
	// acos 25.00 x roas 4.00 / 100 == 1, never flagged
	require.Empty(t, ValidateAds(cleanAds(), nil))

	// Rounding drift alone stays inside tolerance: 500/1700 spend-to-sales.
	rec := cleanAds()
	rec.AdSales = 1700
	require.Empty(t, ValidateAds(rec, nil))
}

func TestValidateAdsSkipsAcosCheckOnZeroSpend(t *testing.T) {
	rec := cleanAds()
	rec.AdSpend = 0
	require.Empty(t, ValidateAds(rec, nil))
}

func TestValidateAdsDayOverDaySpike(t *testing.T) {
	rec := cleanAds()
	prior := cleanAds()
	prior.Date = "2025-08-29"
	prior.AdSpend = 100
	rec.AdSpend = 2000
	rec.AdSales = 8000 // keeps acos/roas consistent so only the spike fires

	anomalies := ValidateAds(rec, &prior)
	require.Len(t, anomalies, 1)
	require.Equal(t, CodeDayOverDaySpike, anomalies[0].Code)
	require.Equal(t, "ad_spend", anomalies[0].Field)
}
