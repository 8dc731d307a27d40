package leadgen

import (
	"net/url"
	"strings"
)

// ThreadRef identifies a Reddit submission parsed from a URL.
type ThreadRef struct {
	ID        string
	Subreddit string
}

// ParseThreadURL extracts the submission ID from reddit.com/r/{sub}/comments/{id}/...
// and redd.it/{id} links. It reports false for anything else, including
// subreddit listings and user pages.
func ParseThreadURL(raw string) (ThreadRef, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ThreadRef{}, false
	}
	host := strings.ToLower(u.Hostname())
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch {
	case host == "redd.it":
		if len(parts) == 1 && validThreadID(parts[0]) {
			return ThreadRef{ID: strings.ToLower(parts[0])}, true
		}
	case host == "reddit.com" || strings.HasSuffix(host, ".reddit.com"):
		for i := 0; i+1 < len(parts); i++ {
			if parts[i] != "comments" || !validThreadID(parts[i+1]) {
				continue
			}
			ref := ThreadRef{ID: strings.ToLower(parts[i+1])}
			if i >= 2 && parts[i-2] == "r" {
				ref.Subreddit = parts[i-1]
			}
			return ref, true
		}
	}
	return ThreadRef{}, false
}

func validThreadID(id string) bool {
	if id == "" || len(id) > 12 {
		return false
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
