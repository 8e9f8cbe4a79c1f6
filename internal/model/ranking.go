package model

// Verdict is the resolved quality label for one (venue, year) pair.
// Score is the token edit distance of the matched catalogue entry
// (0 = exact title match, -1 when no entry matched).
type Verdict struct {
	Value string `json:"value"`
	Msg   string `json:"msg"`
	Exact bool   `json:"exact"`
	Score int    `json:"score"`
}

// RankingEntry is one row of a ranking catalogue
type RankingEntry struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Acronym string `json:"acronym,omitempty"`
	Rank    string `json:"rank"`
}

// SnapshotRef identifies a yearly ranking catalogue published by a ranking source
// (e.g. {2021, "CORE2021"} or {2020, "scimagojr:2020"}).
type SnapshotRef struct {
	Year   int    `json:"year"`
	Source string `json:"source"`
}

// Snapshot is an immutable yearly ranking catalogue.
type Snapshot struct {
	SnapshotRef
	Entries []RankingEntry `json:"entries"`
}
