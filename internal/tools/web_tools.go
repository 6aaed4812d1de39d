package tools

import (
	"github.com/nugget/nova-agent/internal/fetch"
	"github.com/nugget/nova-agent/internal/search"
)

// RegisterWebTools adds web_search and web_fetch. The search tool is
// only registered when at least one provider is configured.
func RegisterWebTools(r *Registry, mgr *search.Manager, f *fetch.Fetcher) {
	if mgr != nil && mgr.Configured() {
		r.Register(&Tool{
			Name:        "web_search",
			Description: "Search the web. Returns titles, URLs, and snippets for the top results.",
			Parameters:  search.ToolDefinition(),
			Handler:     search.ToolHandler(mgr),
		})
	}

	if f != nil {
		r.Register(&Tool{
			Name:        "web_fetch",
			Description: "Fetch a URL and return its readable text content. HTML is stripped to plain text; long pages are truncated.",
			Parameters:  fetch.ToolDefinition(),
			Handler:     fetch.ToolHandler(f),
		})
	}
}
