package dispatch

import (
	"fmt"

	"chatmux/internal/providers"
)

const (
	markdownInstruction = "Please answer strictly in Markdown format, using headings, lists and code blocks where they help. Question: %s"

	webSearchInstruction = "[WEB_SEARCH] %s\n\n" +
		"Please do the following:\n" +
		"1. Search the web for the latest information\n" +
		"2. Organize and verify the search results\n" +
		"3. Answer in Markdown format and cite your sources"

	// SimulatedSearchNotice prefixes local prompts: there is no search backend offline.
	SimulatedSearchNotice = "[SIMULATED WEB SEARCH]"

	simulatedSearchInstruction = SimulatedSearchNotice + " %s\n\n" +
		"This is a local model without network access, so the search results below are a simulated approximation:"

	remoteSearchBanner = "### Search results\n%s\n\n<small>Source: %s network search</small>"

	// LocalSearchDisclaimer closes every simulated local search answer.
	LocalSearchDisclaimer = "<small>⚠️ Note: these search results were simulated by the local model</small>"

	localSearchBanner = "### Simulated search results (local model)\n%s\n\n" + LocalSearchDisclaimer
)

// OutboundText is the prompt actually sent for req on provider id.
func OutboundText(id providers.ProviderID, req Request) string {
	if !req.WebSearch {
		return fmt.Sprintf(markdownInstruction, req.Text)
	}
	text := fmt.Sprintf(webSearchInstruction, req.Text)
	if id == providers.Ollama {
		text = fmt.Sprintf(simulatedSearchInstruction, text)
	}
	return text
}

// WrapSearchResult adds the provenance banner to a search-augmented answer.
func WrapSearchResult(id providers.ProviderID, content string) string {
	if id == providers.Ollama {
		return fmt.Sprintf(localSearchBanner, content)
	}
	return fmt.Sprintf(remoteSearchBanner, content, id.DisplayName())
}
