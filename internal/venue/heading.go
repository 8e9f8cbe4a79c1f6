package venue

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

var (
	// ErrHeadingNotFound means the document ended without an <h1>.
	ErrHeadingNotFound = errors.New("venue heading not found")
	// ErrParse wraps malformed documents.
	ErrParse = errors.New("venue document parse error")
)

// heading is the primary heading of a DBLP document: its text and the
// first cross-reference link found inside it.
type heading struct {
	Text string
	Link string
}

// parseHeading streams doc until the first <h1> closes.
func parseHeading(doc []byte) (heading, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	// Bodies are already UTF-8; ignore the declared encoding.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	var (
		h     heading
		text  strings.Builder
		depth int // nesting below <h1>, 0 when outside
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return heading{}, ErrHeadingNotFound
		}
		if err != nil {
			return heading{}, fmt.Errorf("%w: %v", ErrParse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if strings.EqualFold(t.Name.Local, "h1") {
					depth = 1
				}
				continue
			}
			depth++
			name := strings.ToLower(t.Name.Local)
			if h.Link == "" && (name == "ref" || name == "a") {
				h.Link = attr(t, "href")
			}
		case xml.EndElement:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				h.Text = strings.Join(strings.Fields(text.String()), " ")
				return h, nil
			}
		case xml.CharData:
			if depth > 0 {
				text.Write(t)
			}
		}
	}
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// NormalizeReference turns a heading link or user input into a bare
// reference: absolute URLs lose scheme and host, leading slashes and any
// query or fragment are dropped.
func NormalizeReference(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil {
		ref = u.Path
	}
	return strings.TrimLeft(ref, "/")
}

// DocumentURL derives the XML metadata document for a reference.
// Conference and journal instance pages map to their series index,
// other .html pages to their .xml twin.
func DocumentURL(baseURL, ref string) string {
	base := strings.TrimRight(baseURL, "/")
	ref = NormalizeReference(ref)

	switch {
	case isSeriesInstance(ref):
		return base + "/" + path.Dir(ref) + "/index.xml"
	case strings.HasSuffix(ref, ".html"):
		return base + "/" + strings.TrimSuffix(ref, ".html") + ".xml"
	case strings.HasSuffix(ref, ".xml"):
		return base + "/" + ref
	default:
		return base + "/" + strings.TrimRight(ref, "/") + "/index.xml"
	}
}

func isSeriesInstance(ref string) bool {
	if !strings.HasSuffix(ref, ".html") {
		return false
	}
	return strings.HasPrefix(ref, "db/conf/") || strings.HasPrefix(ref, "db/journals/")
}
