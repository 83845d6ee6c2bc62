package models

// CompanyInfo is the identity block shown after a code search
type CompanyInfo struct {
	Name     string
	Code     string
	Industry string
}

// Financials holds the income statement line items read from the report window
type Financials struct {
	AnnualRevenue   string
	GrossProfit     string
	GrossMargin     string
	ProfitBeforeTax string
	ProfitAfterTax  string
}

// Empty reports whether no line item was found
func (f Financials) Empty() bool {
	return f.AnnualRevenue == "" &&
		f.GrossProfit == "" &&
		f.GrossMargin == "" &&
		f.ProfitBeforeTax == "" &&
		f.ProfitAfterTax == ""
}
