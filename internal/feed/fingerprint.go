// Package feed ingests externally-fetched feed items into chat channels
// exactly once, using a reservation ledger keyed by content fingerprint.
package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/harborchat/harbor/internal/domain"
)

// trackingParams are query parameters that identify the click, not the
// content. They are stripped before fingerprinting.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"dclid":    true,
	"msclkid":  true,
	"igshid":   true,
	"mc_cid":   true,
	"mc_eid":   true,
	"ref":      true,
	"_ga":      true,
	"yclid":    true,
	"spm":      true,
	"referrer": true,
}

func isTrackingParam(name string) bool {
	return trackingParams[name] || strings.HasPrefix(name, "utm_")
}

// NormalizeURL canonicalizes a feed item link so that cosmetic variants
// of the same URL fingerprint identically. The normalization is
// idempotent: re-normalizing its own output is a no-op.
func NormalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}

	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if host, port, ok := strings.Cut(u.Host, ":"); ok {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	u.Path = strings.TrimRight(u.Path, "/")

	q := u.Query()
	for name := range q {
		if isTrackingParam(name) {
			q.Del(name)
		}
	}
	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		// url.Values.Encode sorts keys; sort repeated values too so
		// ordering inside one key cannot produce distinct fingerprints.
		for _, vs := range q {
			sort.Strings(vs)
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), true
}

// Fingerprint derives the dedup key for an item: the normalized link
// when one exists, otherwise a content hash of title and publish time.
func Fingerprint(item domain.FeedItem) string {
	if normalized, ok := NormalizeURL(item.Link); ok {
		return "url:" + normalized
	}
	h := sha256.New()
	h.Write([]byte(item.Title))
	h.Write([]byte{0})
	h.Write([]byte(item.PublishedAt.UTC().Format(time.RFC3339)))
	return "sha:" + hex.EncodeToString(h.Sum(nil))
}
