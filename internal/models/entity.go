// -----------------------------------------------------------------------
// Entity - One company row from the input dataset
// -----------------------------------------------------------------------

package models

import "strings"

// NoCodeSentinel marks an entity whose code lookup failed upstream.
const NoCodeSentinel = "查無資訊"

// NotAvailable is the placeholder applied to company info fields the page did not show.
const NotAvailable = "無資料"

// Entity is a named company and the fields extracted for it.
// Empty strings mean the field was never populated.
type Entity struct {
	Name string `json:"name"`
	Code string `json:"code"`

	Industry        string `json:"industry"`
	AnnualRevenue   string `json:"annual_revenue"`
	GrossProfit     string `json:"gross_profit"`
	GrossMargin     string `json:"gross_margin"`
	ProfitBeforeTax string `json:"profit_before_tax"`
	ProfitAfterTax  string `json:"profit_after_tax"`
}

// HasCode reports whether the entity carries a code the search page can use
func (e Entity) HasCode() bool {
	code := strings.TrimSpace(e.Code)
	return code != "" && code != NoCodeSentinel
}

// ApplyFinancials copies every populated financial field onto the entity
func (e *Entity) ApplyFinancials(f Financials) {
	if f.AnnualRevenue != "" {
		e.AnnualRevenue = f.AnnualRevenue
	}
	if f.GrossProfit != "" {
		e.GrossProfit = f.GrossProfit
	}
	if f.GrossMargin != "" {
		e.GrossMargin = f.GrossMargin
	}
	if f.ProfitBeforeTax != "" {
		e.ProfitBeforeTax = f.ProfitBeforeTax
	}
	if f.ProfitAfterTax != "" {
		e.ProfitAfterTax = f.ProfitAfterTax
	}
}

// Row returns the entity values in Columns order
func (e Entity) Row() []string {
	return []string{
		e.Name,
		e.Code,
		e.Industry,
		e.AnnualRevenue,
		e.GrossProfit,
		e.GrossMargin,
		e.ProfitBeforeTax,
		e.ProfitAfterTax,
	}
}

// Set assigns a value by column key. Unknown keys are ignored.
func (e *Entity) Set(key, value string) {
	switch key {
	case ColumnName:
		e.Name = value
	case ColumnCode:
		e.Code = value
	case ColumnIndustry:
		e.Industry = value
	case ColumnAnnualRevenue:
		e.AnnualRevenue = value
	case ColumnGrossProfit:
		e.GrossProfit = value
	case ColumnGrossMargin:
		e.GrossMargin = value
	case ColumnProfitBeforeTax:
		e.ProfitBeforeTax = value
	case ColumnProfitAfterTax:
		e.ProfitAfterTax = value
	}
}

// Column keys
const (
	ColumnName            = "name"
	ColumnCode            = "code"
	ColumnIndustry        = "industry"
	ColumnAnnualRevenue   = "annual_revenue"
	ColumnGrossProfit     = "gross_profit"
	ColumnGrossMargin     = "gross_margin"
	ColumnProfitBeforeTax = "profit_before_tax"
	ColumnProfitAfterTax  = "profit_after_tax"
)

// Column pairs a stable key with the header label written to the workbook
type Column struct {
	Key    string
	Header string
}

// Columns is the fixed output order. Row() must stay in step with it.
var Columns = []Column{
	{Key: ColumnName, Header: "公司名稱"},
	{Key: ColumnCode, Header: "公司代號"},
	{Key: ColumnIndustry, Header: "產業類別"},
	{Key: ColumnAnnualRevenue, Header: "年營收"},
	{Key: ColumnGrossProfit, Header: "毛利額"},
	{Key: ColumnGrossMargin, Header: "毛利率"},
	{Key: ColumnProfitBeforeTax, Header: "稅前淨利"},
	{Key: ColumnProfitAfterTax, Header: "稅後淨利"},
}

// ColumnKeyForHeader resolves either a header label or a key to the column key
func ColumnKeyForHeader(header string) (string, bool) {
	h := strings.TrimSpace(header)
	for _, c := range Columns {
		if h == c.Header || strings.EqualFold(h, c.Key) {
			return c.Key, true
		}
	}
	return "", false
}

// HeaderRow returns the header labels in Columns order
func HeaderRow() []string {
	headers := make([]string, len(Columns))
	for i, c := range Columns {
		headers[i] = c.Header
	}
	return headers
}
