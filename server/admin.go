package server

import (
	"encoding/json"
	"net/http"
	"path"
	"sort"
)

type hitJSON struct {
	Path string `json:"path"`
	Hits uint64 `json:"hits"`
}

// AdminHandler serves /metrics and /stats. It is only reachable through the
// admin address, never through the document port.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	} else {
		mux.HandleFunc("/metrics", http.NotFound)
	}
	mux.HandleFunc("/stats", s.StatsHandler)
	return mux
}

// StatsHandler writes the recorded hit counts as JSON, most visited first.
// With ?path= only the count of that path is written.
func (s *Server) StatsHandler(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		rw.Header().Set("Allow", http.MethodGet)
		http.Error(rw, "Only GET requests are supported", http.StatusMethodNotAllowed)
		return
	}
	if s.stats == nil {
		http.Error(rw, "Stats are disabled", http.StatusNotFound)
		return
	}

	if q := req.URL.Query().Get("path"); q != "" {
		p := path.Clean("/" + q)
		n, err := s.stats.Hit(p)
		if err != nil {
			s.logger.Error("Failed to read stats", "path", p, "err", err)
			http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(rw, hitJSON{Path: p, Hits: n})
		return
	}

	hits, err := s.stats.Hits()
	if err != nil {
		s.logger.Error("Failed to read stats", "err", err)
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	list := make([]hitJSON, 0, len(hits))
	for p, n := range hits {
		list = append(list, hitJSON{Path: p, Hits: n})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Hits != list[j].Hits {
			return list[i].Hits > list[j].Hits
		}
		return list[i].Path < list[j].Path
	})

	writeJSON(rw, list)
}

func writeJSON(rw http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(rw, "Internal Server Error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = rw.Write(b)
}
