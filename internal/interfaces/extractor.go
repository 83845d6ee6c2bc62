package interfaces

import "github.com/ternarybob/mopscrawl/internal/models"

// Extractor reads structured fields out of rendered page HTML.
// Implementations are stateless and never mutate the page.
type Extractor interface {
	// CompanyInfo returns the identity block and whether it was present at all
	CompanyInfo(html string) (models.CompanyInfo, bool)

	// Financials returns the report line items found in html
	Financials(html string) models.Financials
}
