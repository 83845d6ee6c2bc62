package common

import (
	"fmt"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner followed by the report target
func PrintBanner(version string, config *Config) {
	banner.PrintSimple("MOPS Crawl", version)
	if config == nil {
		return
	}
	fmt.Printf("  env      : %s\n", config.Environment)
	fmt.Printf("  report   : %s Q%s\n", config.Report.Year, config.Report.Season)
	fmt.Printf("  input    : %s\n", config.Dataset.Input)
	fmt.Printf("  output   : %s\n", config.Dataset.Output)
	fmt.Printf("  headless : %t\n\n", config.Browser.Headless)
}
