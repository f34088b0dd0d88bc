package controlplane

import "net/http"

func (s *Server) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := pagination(w, r, 20)
	if !ok {
		return
	}

	entries, err := s.store.RecentActivity(r.Context(), limit)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"activity": entries, "total": len(entries)})
}

func (s *Server) handleActivityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r, 50)
	if !ok {
		return
	}

	items, hasMore, err := s.store.ListRequests(r.Context(), r.URL.Query().Get("session"), limit, offset)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"requests": items,
		"limit":    limit,
		"offset":   offset,
		"has_more": hasMore,
	})
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r, 50)
	if !ok {
		return
	}

	items, hasMore, err := s.store.ListResponses(r.Context(), r.URL.Query().Get("session"), limit, offset)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"responses": items,
		"limit":     limit,
		"offset":    offset,
		"has_more":  hasMore,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r, 50)
	if !ok {
		return
	}

	items, hasMore, err := s.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": items,
		"limit":    limit,
		"offset":   offset,
		"has_more": hasMore,
	})
}
