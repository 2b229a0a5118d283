package search

import (
	"fmt"

	"github.com/lexcodex/deepresearch/research"
)

// FromConfig builds the (web, news) provider pair named by the config.
// DuckDuckGo is the default and needs no credentials; brave and tavily
// require an API key.
func FromConfig(cfg research.SearchConfig) (web, news research.SearchProvider, err error) {
	switch cfg.Provider {
	case "", "duckduckgo":
		return NewDuckDuckGo(cfg.MaxResults), NewDuckDuckGoNews(cfg.MaxResults), nil
	case "brave":
		if cfg.APIKey == "" {
			return nil, nil, fmt.Errorf("search provider %q requires an api_key", cfg.Provider)
		}
		return NewBrave(cfg.APIKey, cfg.MaxResults), NewBraveNews(cfg.APIKey, cfg.MaxResults), nil
	case "tavily":
		if cfg.APIKey == "" {
			return nil, nil, fmt.Errorf("search provider %q requires an api_key", cfg.Provider)
		}
		return NewTavily(cfg.APIKey, "basic", cfg.MaxResults), NewTavilyNews(cfg.APIKey, "basic", cfg.MaxResults), nil
	default:
		return nil, nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}
