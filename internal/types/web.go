package types

// WebResult is one snippet returned by the web-search fallback.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}
