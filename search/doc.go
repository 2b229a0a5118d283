// Package search provides the search provider implementations behind the
// research pipeline's query fan-out.
//
// Available providers:
//
//   - DuckDuckGo: free, no API key required (scrapes lite.duckduckgo.com)
//   - Brave: requires an API key via X-Subscription-Token
//   - Tavily: requires an API key, supports basic/advanced depth modes
//
// Every provider exists in a web and a news variant; both satisfy
// research.SearchProvider and the pipeline treats them as black boxes.
//
// # DuckDuckGo Example
//
//	web := search.NewDuckDuckGo(10)
//	news := search.NewDuckDuckGoNews(10)
//	results, err := web.Search(ctx, "antikythera mechanism")
//
// # Brave Example
//
//	provider := search.NewBrave("your-api-key", 10)
//	results, err := provider.Search(ctx, "deep sea mining regulation")
//
// # Tavily Example
//
//	provider := search.NewTavily("your-api-key", "advanced", 10)
//	results, err := provider.Search(ctx, "fusion energy milestones 2025")
//
// # Selecting a provider
//
// FromConfig maps a research.SearchConfig onto a (web, news) provider pair:
//
//	web, news, err := search.FromConfig(cfg.Search)
package search
