// ABOUTME: Operational endpoints: health probe, info summary, rendered docs.
// ABOUTME: Docs are the registered markdown resources rendered to HTML.

package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
)

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleInfo summarizes the running gateway: capability counts, live
// sessions, uptime, and recorded usage.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	reg := s.router.Registry()

	info := map[string]any{
		"name":    s.serverName,
		"version": s.serverVersion,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"capabilities": map[string]int{
			"tools":     len(reg.ListTools()),
			"resources": len(reg.ListResources()),
			"prompts":   len(reg.ListPrompts()),
		},
		"sessions":   s.router.Sessions().Count(),
		"transports": []string{"streamable", "legacy"},
	}

	if stats, err := s.usage.GetStats(r.Context()); err == nil {
		info["usage"] = stats
	} else {
		s.logger.Warn("failed to load usage stats", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// handleDocs renders every registered markdown resource to one HTML
// page.
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	var body bytes.Buffer
	for _, res := range s.router.Registry().ListResources() {
		contents, err := s.router.Registry().ReadResource(r.Context(), res.URI)
		if err != nil {
			s.logger.Warn("failed to read resource for docs", "uri", res.URI, "error", err)
			continue
		}
		fmt.Fprintf(&body, "<section id=%q>\n", html.EscapeString(res.URI))
		if err := goldmark.Convert([]byte(contents.Text), &body); err != nil {
			s.logger.Warn("failed to render resource", "uri", res.URI, "error", err)
		}
		body.WriteString("</section>\n<hr>\n")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s docs</title></head>
<body>
%s</body>
</html>
`, html.EscapeString(s.serverName), body.String())
}
