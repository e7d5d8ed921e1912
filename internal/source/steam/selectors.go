package steam

import (
	"encoding/json"
	"fmt"
	"os"
)

type SelectorConfig struct {
	SearchResults SearchSelectors `json:"search_results"`
}

type SearchSelectors struct {
	Row           string `json:"row"`            // e.g., "a.search_result_row"
	AppIDAttr     string `json:"app_id_attr"`    // e.g., "data-ds-appid"
	Title         string `json:"title"`          // e.g., ".title"
	Discount      string `json:"discount"`       // e.g., ".discount_pct"
	DiscountAttr  string `json:"discount_attr"`  // e.g., "data-discount"
	DiscountBlock string `json:"discount_block"` // element carrying DiscountAttr
	Image         string `json:"image"`
}

// LoadSelectors loads the selector configuration from the specified JSON file.
func LoadSelectors(path string) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to read selector config file: %w", err)
	}

	return LoadSelectorsFromBytes(data)
}

// LoadSelectorsFromBytes parses selector configuration from raw JSON bytes.
func LoadSelectorsFromBytes(data []byte) (SelectorConfig, error) {
	var config SelectorConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}
	if config.SearchResults.Row == "" || config.SearchResults.AppIDAttr == "" {
		return SelectorConfig{}, fmt.Errorf("selector config is missing the search row or app id attribute")
	}

	return config, nil
}

// DefaultSelectors returns the fallback configuration if no JSON file is loaded.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		SearchResults: SearchSelectors{
			Row:           "a.search_result_row",
			AppIDAttr:     "data-ds-appid",
			Title:         ".title",
			Discount:      ".discount_pct, .search_discount span",
			DiscountAttr:  "data-discount",
			DiscountBlock: ".discount_block",
			Image:         ".search_capsule img",
		},
	}
}
