package normalize

import (
	"fmt"
	"strings"

	gocvss20 "github.com/pandatix/go-cvss/20"
	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// ScoreFromVector computes the base score of a CVSS vector string. It is used
// when a metric carries a vector but no numeric score.
func ScoreFromVector(vector string) (float64, error) {
	vector = strings.TrimSpace(vector)

	switch {
	case strings.HasPrefix(vector, "CVSS:3.1/"):
		cvss, err := gocvss31.ParseVector(vector)
		if err != nil {
			return 0, fmt.Errorf("parse CVSS v3.1 vector: %w", err)
		}
		return cvss.BaseScore(), nil
	case strings.HasPrefix(vector, "CVSS:3.0/"):
		cvss, err := gocvss30.ParseVector(vector)
		if err != nil {
			return 0, fmt.Errorf("parse CVSS v3.0 vector: %w", err)
		}
		return cvss.BaseScore(), nil
	case strings.HasPrefix(vector, "CVSS:4.0/"):
		cvss, err := gocvss40.ParseVector(vector)
		if err != nil {
			return 0, fmt.Errorf("parse CVSS v4.0 vector: %w", err)
		}
		return cvss.Score(), nil
	case strings.HasPrefix(vector, "AV:"):
		cvss, err := gocvss20.ParseVector(vector)
		if err != nil {
			return 0, fmt.Errorf("parse CVSS v2 vector: %w", err)
		}
		return cvss.BaseScore(), nil
	default:
		return 0, fmt.Errorf("unsupported CVSS vector %q", vector)
	}
}
