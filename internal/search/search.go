package search

// Result is a single content node matched by a search.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	SiteID  string `json:"siteId"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterSiteID string
	Limit        int
	Offset       int
}

// Response is the envelope returned to callers of Service.Search.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// NodeRecord is the data we index for a content node.
type NodeRecord struct {
	ID       string   `json:"id"`
	SiteID   string   `json:"siteId"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Kind     string   `json:"kind"`
	Tags     []string `json:"tags"`
	Comments []string `json:"comments"`
	Likes    int      `json:"likes"`
}
