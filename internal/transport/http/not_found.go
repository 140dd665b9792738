package http

import "net/http"

// NotFoundHandler answers unmatched routes, wrong methods included, with
// the JSON error envelope naming the request that missed.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
}
