package api

import (
	"context"
	"net/http"

	"github.com/onnwee/orangesearch/internal/middleware"
	"github.com/onnwee/orangesearch/internal/search"
)

// Searcher executes a search for an identity.
type Searcher interface {
	ExecuteSearch(ctx context.Context, query string, id search.Identity) (*search.Outcome, error)
}

// SearchHandlers serves GET /search.
type SearchHandlers struct {
	searcher Searcher
	identity func(r *http.Request) search.Identity
}

// NewSearchHandlers creates search handlers. Identity is resolved from the
// authenticated user in the context and middleware.ClientIP.
func NewSearchHandlers(searcher Searcher) *SearchHandlers {
	return &SearchHandlers{searcher: searcher, identity: RequestIdentity}
}

// SearchResponse is the success body of GET /search.
type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	Count     int            `json:"count"`
	Retrieval string         `json:"retrieval"`
}

// SearchResult is one ranked document.
type SearchResult struct {
	URL         string  `json:"url"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Score       float64 `json:"score"`
}

// RequestIdentity builds the search identity for r.
func RequestIdentity(r *http.Request) search.Identity {
	id := search.Identity{IP: middleware.ClientIP(r)}
	if userID, ok := middleware.GetUserID(r.Context()); ok {
		id.UserID = &userID
	}
	return id
}

// Search handles GET /search?q=...
func (h *SearchHandlers) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, "GET, HEAD")
		return
	}

	out, err := h.searcher.ExecuteSearch(r.Context(), r.URL.Query().Get("q"), h.identity(r))
	if err != nil {
		WriteSearchError(w, r.Context(), err)
		return
	}

	resp := SearchResponse{
		Results:   make([]SearchResult, 0, len(out.Results)),
		Count:     len(out.Results),
		Retrieval: string(out.Path),
	}
	for _, s := range out.Results {
		resp.Results = append(resp.Results, SearchResult{
			URL:         s.URL,
			Title:       s.Title,
			Description: s.Description,
			Score:       s.Score,
		})
	}
	writeJSON(w, r.Context(), http.StatusOK, resp)
}
