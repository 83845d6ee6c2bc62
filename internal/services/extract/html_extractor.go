package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mopscrawl/internal/interfaces"
	"github.com/ternarybob/mopscrawl/internal/models"
)

// Company info labels as printed on the search result page
const (
	labelCompanyName = "公司名稱："
	labelCompanyCode = "公司代號："
	labelIndustry    = "產業類別："
)

// FinancialLabels are the row titles of the income statement report
type FinancialLabels struct {
	Revenue         string
	GrossProfit     string
	ProfitBeforeTax string
	ProfitAfterTax  string
}

// DefaultFinancialLabels matches the consolidated income statement layout
func DefaultFinancialLabels() FinancialLabels {
	return FinancialLabels{
		Revenue:         "營業收入合計",
		GrossProfit:     "營業毛利（毛損）淨額",
		ProfitBeforeTax: "稅前淨利（淨損）",
		ProfitAfterTax:  "本期淨利（淨損）",
	}
}

var infoBlockSelectors = []string{
	"div[style*='font-weight:bold']",
	"div[style*='font-weight: bold']",
}

// HTMLExtractor pulls company info and financial line items out of rendered pages
type HTMLExtractor struct {
	labels      FinancialLabels
	tableSelect string
	logger      arbor.ILogger
}

var _ interfaces.Extractor = (*HTMLExtractor)(nil)

func NewHTMLExtractor(logger arbor.ILogger) *HTMLExtractor {
	return &HTMLExtractor{
		labels:      DefaultFinancialLabels(),
		tableSelect: "table.hasBorder",
		logger:      logger,
	}
}

// CompanyInfo reads the bold label blocks. Labels that are absent default to
// models.NotAvailable; ok is false when no label was found at all.
func (e *HTMLExtractor) CompanyInfo(html string) (models.CompanyInfo, bool) {
	info := models.CompanyInfo{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to parse company info html")
		return info, false
	}

	found := false
	for _, selector := range infoBlockSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			switch {
			case strings.Contains(text, labelCompanyName):
				info.Name = valueAfter(text, labelCompanyName)
				found = true
			case strings.Contains(text, labelCompanyCode):
				info.Code = valueAfter(text, labelCompanyCode)
				found = true
			case strings.Contains(text, labelIndustry):
				info.Industry = valueAfter(text, labelIndustry)
				found = true
			}
		})
	}

	if info.Name == "" {
		info.Name = models.NotAvailable
	}
	if info.Code == "" {
		info.Code = models.NotAvailable
	}
	if info.Industry == "" {
		info.Industry = models.NotAvailable
	}

	return info, found
}

// Financials reads the first report table. A later row with the same label overwrites an
// earlier one. The gross profit row's third column is the gross margin.
func (e *HTMLExtractor) Financials(html string) models.Financials {
	var f models.Financials

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to parse report html")
		return f
	}

	table := doc.Find(e.tableSelect).First()
	if table.Length() == 0 {
		e.logger.Warn().Str("selector", e.tableSelect).Msg("Financial table not found")
		return f
	}

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() < 2 {
			return
		}

		title := strings.TrimSpace(cols.Eq(0).Text())
		value := compact(cols.Eq(1).Text())
		percentage := ""
		if cols.Length() >= 3 {
			percentage = strings.TrimSpace(cols.Eq(2).Text())
		}

		switch {
		case strings.Contains(title, e.labels.Revenue):
			f.AnnualRevenue = value
		case strings.Contains(title, e.labels.GrossProfit):
			f.GrossProfit = value
			f.GrossMargin = percentage
		case strings.Contains(title, e.labels.ProfitBeforeTax):
			f.ProfitBeforeTax = value
		case strings.Contains(title, e.labels.ProfitAfterTax):
			f.ProfitAfterTax = value
		}
	})

	return f
}

func valueAfter(text, label string) string {
	idx := strings.Index(text, label)
	return strings.TrimSpace(text[idx+len(label):])
}

// compact drops every kind of space inside a number cell
func compact(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
