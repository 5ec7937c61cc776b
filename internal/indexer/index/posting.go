package index

// PostingList is the insertion-ordered sequence of article key hashes that
// contained a shingle when they were ingested. It is never deduplicated.
type PostingList []string

// Candidate is a scored article resolved back to its original key.
type Candidate struct {
	Key     string  `json:"key"`
	KeyHash string  `json:"key_hash"`
	Score   float64 `json:"score"`
}

// Match is the outcome of resolving a query against the index. Found is
// false, and Score zero, when no query shingle was ever ingested.
type Match struct {
	Key     string  `json:"key,omitempty"`
	KeyHash string  `json:"key_hash,omitempty"`
	Score   float64 `json:"score"`
	Found   bool    `json:"found"`
}

// Stats describes the size of an index.
type Stats struct {
	Width    int  `json:"shingle_width"`
	Hashed   bool `json:"hashed_shingles"`
	Shingles int  `json:"shingles"`
	Keys     int  `json:"keys"`
	Postings int  `json:"postings"`
	Ingested int  `json:"ingested"`
}
