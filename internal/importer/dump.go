package importer

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrChecksumMismatch is returned when a dump does not match its md5 file.
var ErrChecksumMismatch = errors.New("md5 checksum mismatch")

// conferenceURL selects proceedings with a conference table of contents.
var conferenceURL = regexp.MustCompile(`^db/conf/.*\.html$`)

// Proceeding is a conference proceedings record of the dump.
type Proceeding struct {
	Key       string
	Reference string
	Title     string
}

type xmlProceeding struct {
	Key   string `xml:"key,attr"`
	Title string `xml:"title"`
	URL   string `xml:"url"`
}

// ScanProceedings streams r and returns the conference proceedings, one per
// reference in document order. The dump declares ISO-8859-1 and relies on
// the HTML entity set of dblp.dtd.
func ScanProceedings(r io.Reader) ([]Proceeding, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	var (
		out  []Proceeding
		seen = make(map[string]bool)
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode dump: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "proceedings" {
			continue
		}
		var p xmlProceeding
		if err := dec.DecodeElement(&p, &start); err != nil {
			return nil, fmt.Errorf("decode proceedings: %w", err)
		}
		ref := strings.TrimSpace(p.URL)
		if !conferenceURL.MatchString(ref) || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, Proceeding{
			Key:       p.Key,
			Reference: ref,
			Title:     strings.Join(strings.Fields(p.Title), " "),
		})
	}
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open dump: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash dump: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
