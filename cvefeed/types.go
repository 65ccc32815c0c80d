package cvefeed

// =============== Types ===============

// NVDResponse is the NVD 2.0 envelope. The feed endpoint returns a bare
// array of Item; the envelope is accepted so the client can also be pointed
// at the NVD API.
type NVDResponse struct {
	ResultsPerPage  int          `json:"resultsPerPage"`
	StartIndex      int          `json:"startIndex"`
	TotalResults    int          `json:"totalResults"`
	Vulnerabilities []NVDWrapper `json:"vulnerabilities"`
}

// An item in the envelope's "vulnerabilities" array
type NVDWrapper struct {
	CVE Item `json:"cve"`
}

// Item is one raw advisory as published by the feed. Every optional nested
// container is a nil slice when the source omits it.
type Item struct {
	ID               string       `json:"id"`
	SourceIdentifier string       `json:"sourceIdentifier"`
	Published        string       `json:"published"`
	LastModified     string       `json:"lastModified"`
	VulnStatus       string       `json:"vulnStatus"`
	CveTags          []CveTag     `json:"cveTags,omitempty"`
	Descriptions     []LangString `json:"descriptions"`
	Metrics          *Metrics     `json:"metrics,omitempty"`
	Weaknesses       []Weakness   `json:"weaknesses,omitempty"`
	Configurations   []Config     `json:"configurations,omitempty"`
	References       []Reference  `json:"references,omitempty"`
}

// Each object in "cveTags"
type CveTag struct {
	SourceIdentifier string   `json:"sourceIdentifier"`
	Tags             []string `json:"tags"`
}

// "descriptions" array items
type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// "references" array items
type Reference struct {
	URL    string   `json:"url"`
	Source string   `json:"source,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Container for multiple CVSS versions
type Metrics struct {
	CvssMetricV40 []CvssV40 `json:"cvssMetricV40,omitempty"`
	CvssMetricV31 []CvssV31 `json:"cvssMetricV31,omitempty"`
	CvssMetricV30 []CvssV30 `json:"cvssMetricV30,omitempty"`
	CvssMetricV2  []CvssV2  `json:"cvssMetricV2,omitempty"`
}

// CVSS v4.0
type CvssV40 struct {
	Source   string   `json:"source"`
	Type     string   `json:"type"`
	CvssData CvssData `json:"cvssData"`
}

// CVSS v3.1
type CvssV31 struct {
	Source              string   `json:"source"`
	Type                string   `json:"type"`
	CvssData            CvssData `json:"cvssData"`
	ExploitabilityScore float64  `json:"exploitabilityScore,omitempty"`
	ImpactScore         float64  `json:"impactScore,omitempty"`
}

// CVSS v3.0
type CvssV30 struct {
	Source              string   `json:"source"`
	Type                string   `json:"type"`
	CvssData            CvssData `json:"cvssData"`
	ExploitabilityScore float64  `json:"exploitabilityScore,omitempty"`
	ImpactScore         float64  `json:"impactScore,omitempty"`
}

// CVSS v2.0. The severity label sits on the metric, not in cvssData.
type CvssV2 struct {
	Source       string   `json:"source"`
	Type         string   `json:"type"`
	CvssData     CvssData `json:"cvssData"`
	BaseSeverity string   `json:"baseSeverity,omitempty"`
}

// CvssData holds the fields shared by every CVSS version that normalization
// reads. BaseScore is a pointer so a missing score is distinguishable from 0.0.
type CvssData struct {
	Version      string   `json:"version"`
	VectorString string   `json:"vectorString"`
	BaseScore    *float64 `json:"baseScore,omitempty"`
	BaseSeverity string   `json:"baseSeverity,omitempty"`
}

// "weaknesses" array items
type Weakness struct {
	Source      string       `json:"source"`
	Type        string       `json:"type"`
	Description []LangString `json:"description"`
}

// "configurations" array items
type Config struct {
	Operator string `json:"operator,omitempty"`
	Negate   bool   `json:"negate,omitempty"`
	Nodes    []Node `json:"nodes"`
}

// Each node in "configurations"
type Node struct {
	Operator string     `json:"operator"`
	Negate   bool       `json:"negate,omitempty"`
	CpeMatch []CpeMatch `json:"cpeMatch,omitempty"`
}

// An item in "cpeMatch"
type CpeMatch struct {
	Vulnerable      bool   `json:"vulnerable"`
	Criteria        string `json:"criteria"`
	MatchCriteriaID string `json:"matchCriteriaId,omitempty"`
}
