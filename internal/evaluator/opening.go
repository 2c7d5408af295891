package evaluator

import (
	"net/url"
	"strings"
)

// deriveOpeningName picks the best available opening identification from
// PGN headers: an explicit Opening tag, then the trailing segment of a
// chess.com-style ECOUrl, then the bare ECO code.
func deriveOpeningName(headers map[string]string) string {
	if opening := strings.TrimSpace(headers["Opening"]); opening != "" {
		return opening
	}
	if ecoURL := strings.TrimSpace(headers["ECOUrl"]); ecoURL != "" {
		if name := openingNameFromECOURL(ecoURL); name != "" {
			return name
		}
	}
	if eco := strings.TrimSpace(headers["ECO"]); eco != "" {
		return "ECO " + eco
	}
	return ""
}

func openingNameFromECOURL(ecoURL string) string {
	parsed, err := url.Parse(ecoURL)
	if err != nil {
		return ""
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	decoded, err := url.PathUnescape(last)
	if err != nil {
		decoded = last
	}
	decoded = strings.NewReplacer("-", " ", "_", " ").Replace(decoded)
	return strings.Join(strings.Fields(decoded), " ")
}
