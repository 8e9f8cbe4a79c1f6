// Package dblp queries the DBLP author search API and person records.
package dblp

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/rankme/internal/cache"
	"github.com/ppiankov/rankme/internal/throttle"
)

var (
	// ErrInvalidQuery is returned for an empty search query or pid.
	ErrInvalidQuery = errors.New("invalid dblp query")
	// ErrAuthorNotFound is returned when DBLP has no person for a pid.
	ErrAuthorNotFound = errors.New("author not found")
)

// Fetcher performs rate-limited upstream requests.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts ...throttle.RequestOption) (*throttle.Response, error)
}

// AuthorHit is one author search result.
type AuthorHit struct {
	Author      string `json:"author"`
	PID         string `json:"pid"`
	Affiliation string `json:"affiliation"`
}

// Person is a DBLP author with their publication list.
type Person struct {
	PID          string        `json:"pid"`
	Name         string        `json:"name"`
	Affiliations []string      `json:"affiliations,omitempty"`
	Publications []Publication `json:"publications"`
}

// Publication is one record of a person's bibliography. Reference is the
// DBLP table-of-contents page of the venue, usable as a venue reference.
type Publication struct {
	Key       string   `json:"key"`
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Venue     string   `json:"venue,omitempty"`
	Year      int      `json:"year,omitempty"`
	Reference string   `json:"reference,omitempty"`
	Authors   []string `json:"authors,omitempty"`
}

// Client talks to dblp.org on behalf of interactive callers.
type Client struct {
	baseURL string
	fetcher Fetcher
	cache   cache.Cache
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewClient creates a new Client. Results are cached for ttl.
func NewClient(baseURL string, f Fetcher, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: f,
		cache:   c,
		ttl:     ttl,
		logger:  logger.With().Str("component", "dblp").Logger(),
	}
}

// SearchAuthor returns the authors matching q. No match is an empty slice.
func (c *Client) SearchAuthor(ctx context.Context, q string) ([]AuthorHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: empty author query", ErrInvalidQuery)
	}

	key := cache.Key("dblp", "search", strings.ToLower(q))
	if hits, ok := cache.GetJSON[[]AuthorHit](ctx, c.cache, key); ok {
		return hits, nil
	}

	searchURL := c.baseURL + "/search/author/api/?format=json&q=" + url.QueryEscape(q)
	resp, err := c.fetcher.Fetch(ctx, searchURL, throttle.WithPriority(throttle.PriorityInteractive))
	if err != nil {
		return nil, fmt.Errorf("search author %q: %w", q, err)
	}
	hits, err := parseSearch(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search author %q: %w", q, err)
	}

	if err := cache.SetJSON(ctx, c.cache, key, hits, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
	return hits, nil
}

// FetchAuthor returns the person record and publications for pid,
// e.g. "k/DonaldEKnuth".
func (c *Client) FetchAuthor(ctx context.Context, pid string) (*Person, error) {
	pid = strings.Trim(strings.TrimSuffix(strings.TrimSpace(pid), ".xml"), "/")
	if pid == "" {
		return nil, fmt.Errorf("%w: empty pid", ErrInvalidQuery)
	}

	key := cache.Key("dblp", "author", pid)
	if p, ok := cache.GetJSON[Person](ctx, c.cache, key); ok {
		return &p, nil
	}

	resp, err := c.fetcher.Fetch(ctx, c.baseURL+"/pid/"+pid+".xml", throttle.WithPriority(throttle.PriorityInteractive))
	if throttle.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrAuthorNotFound, pid)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch author %s: %w", pid, err)
	}
	p, err := parsePerson(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse author %s: %w", pid, err)
	}
	if p.PID == "" {
		p.PID = pid
	}

	if err := cache.SetJSON(ctx, c.cache, key, p, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
	return p, nil
}

type searchResponse struct {
	Result struct {
		Hits struct {
			Total string `json:"@total"`
			Hit   []struct {
				Info struct {
					Author string          `json:"author"`
					URL    string          `json:"url"`
					Notes  json.RawMessage `json:"notes"`
				} `json:"info"`
			} `json:"hit"`
		} `json:"hits"`
	} `json:"result"`
}

type note struct {
	Type string `json:"@type"`
	Text string `json:"text"`
}

// parseSearch decodes the author search API. The pid is the part of the
// profile url after "/pid/".
func parseSearch(body []byte) ([]AuthorHit, error) {
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]AuthorHit, 0, len(sr.Result.Hits.Hit))
	if sr.Result.Hits.Total == "0" {
		return hits, nil
	}
	for _, h := range sr.Result.Hits.Hit {
		pid := h.Info.URL
		if i := strings.Index(pid, "/pid/"); i >= 0 {
			pid = pid[i+len("/pid/"):]
		}
		hits = append(hits, AuthorHit{
			Author:      h.Info.Author,
			PID:         pid,
			Affiliation: affiliation(h.Info.Notes),
		})
	}
	return hits, nil
}

// affiliation reads {"note": {...}} or {"note": [{...}, ...]} and returns
// the first affiliation note.
func affiliation(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var wrapper struct {
		Note json.RawMessage `json:"note"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || len(wrapper.Note) == 0 {
		return ""
	}

	var notes []note
	if wrapper.Note[0] == '[' {
		if err := json.Unmarshal(wrapper.Note, &notes); err != nil {
			return ""
		}
	} else {
		var n note
		if err := json.Unmarshal(wrapper.Note, &n); err != nil {
			return ""
		}
		notes = []note{n}
	}
	for _, n := range notes {
		if n.Type == "affiliation" {
			return n.Text
		}
	}
	return ""
}

// text collects all character data of an element, flattening inline
// markup such as <i> or <sub> in titles.
type text string

func (t *text) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.CharData:
			b.Write(v)
		case xml.EndElement:
			if v.Name == start.Name {
				*t = text(strings.Join(strings.Fields(b.String()), " "))
				return nil
			}
		}
	}
}

type xmlRecord struct {
	XMLName   xml.Name
	Key       string `xml:"key,attr"`
	PublType  string `xml:"publtype,attr"`
	Authors   []text `xml:"author"`
	Editors   []text `xml:"editor"`
	Title     text   `xml:"title"`
	BookTitle text   `xml:"booktitle"`
	Journal   text   `xml:"journal"`
	School    text   `xml:"school"`
	Publisher text   `xml:"publisher"`
	Year      string `xml:"year"`
	URL       string `xml:"url"`
}

type xmlPerson struct {
	Name   string `xml:"name,attr"`
	PID    string `xml:"pid,attr"`
	Person struct {
		Notes []struct {
			Type string `xml:"type,attr"`
			Text string `xml:",chardata"`
		} `xml:"note"`
	} `xml:"person"`
	Records []struct {
		Items []xmlRecord `xml:",any"`
	} `xml:"r"`
}

func parsePerson(body []byte) (*Person, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	var xp xmlPerson
	if err := dec.Decode(&xp); err != nil {
		return nil, fmt.Errorf("decode person: %w", err)
	}

	p := &Person{PID: xp.PID, Name: xp.Name, Publications: []Publication{}}
	for _, n := range xp.Person.Notes {
		if n.Type == "affiliation" {
			p.Affiliations = append(p.Affiliations, strings.TrimSpace(n.Text))
		}
	}
	for _, r := range xp.Records {
		for _, rec := range r.Items {
			p.Publications = append(p.Publications, publication(rec))
		}
	}
	return p, nil
}

func publication(rec xmlRecord) Publication {
	pub := Publication{
		Key:   rec.Key,
		Type:  rec.XMLName.Local,
		Title: string(rec.Title),
	}
	if rec.XMLName.Local == "article" && rec.PublType == "informal" {
		pub.Type = "informal"
	}
	for _, v := range []text{rec.BookTitle, rec.Journal, rec.School, rec.Publisher} {
		if v != "" {
			pub.Venue = string(v)
			break
		}
	}
	pub.Year, _ = strconv.Atoi(strings.TrimSpace(rec.Year))
	if ref, _, _ := strings.Cut(rec.URL, "#"); ref != "" {
		pub.Reference = ref
	}
	people := rec.Authors
	if len(people) == 0 {
		people = rec.Editors
	}
	for _, a := range people {
		pub.Authors = append(pub.Authors, string(a))
	}
	return pub
}
