package server

import (
	"bytes"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"

	"github.com/aquilax/truncate"
	"github.com/pelageech/aether/timer"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// maxDisplayName is the longest entry name shown in a listing, in runes.
// Links always use the full name.
const maxDisplayName = 64

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE HTML>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Directory listing for {{.Path}}</title>
</head>
<body>
<h1>Directory listing for {{.Path}}</h1>
<hr>
<ul>
{{- range .Entries}}
<li><a href="{{.Href}}">{{.Name}}</a></li>
{{- end}}
</ul>
<hr>
</body>
</html>
`))

type listingEntry struct {
	Name string
	Href string
	sort string
}

type listingPage struct {
	Path    string
	Entries []listingEntry
}

// serveListing renders the entries of dir as an HTML page. Directories are
// suffixed with "/" and symlinks with "@"; entries are sorted
// case-insensitively.
func (h *fileHandler) serveListing(rw http.ResponseWriter, req *http.Request, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		h.notFound(rw, req, err)
		return
	}

	page := listingPage{
		Path:    req.URL.Path,
		Entries: make([]listingEntry, 0, len(entries)),
	}
	for _, e := range entries {
		name, link := e.Name(), e.Name()
		switch {
		case e.IsDir():
			name += "/"
			link += "/"
		case e.Type()&fs.ModeSymlink != 0:
			name += "@"
		}
		page.Entries = append(page.Entries, listingEntry{
			Name: truncate.Truncate(name, maxDisplayName, "...", truncate.PositionMiddle),
			Href: (&url.URL{Path: link}).String(),
			sort: e.Name(),
		})
	}

	c := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(page.Entries, func(i, j int) bool {
		return c.CompareString(page.Entries[i].sort, page.Entries[j].sort) < 0
	})

	var buf bytes.Buffer
	if err := listingTemplate.Execute(&buf, page); err != nil {
		h.logger.Error("Failed to render listing",
			"id", timer.RequestID(req.Context()),
			"path", req.URL.Path,
			"err", err,
		)
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	header := rw.Header()
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(buf.Len()))
	rw.WriteHeader(http.StatusOK)
	h.recordHit(dir)

	if req.Method == http.MethodHead {
		return
	}
	_, _ = buf.WriteTo(rw)
}
