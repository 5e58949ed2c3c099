package imgcache

import (
	"net/url"
	"strings"
)

// SignedStorageURL reports whether src points at a signed, token-bearing
// storage object. Such objects sit behind cross-origin access checks
// that reject an anonymous server-side re-fetch, so the cache hands the
// URL back untouched and leaves delivery to the browser.
//
// It is the default restricted-source predicate; swap it per cache with
// WithRestricted.
func SignedStorageURL(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	if u.Query().Get("token") == "" {
		return false
	}
	return strings.Contains(u.Path, "/object/sign") || strings.HasSuffix(u.Hostname(), ".supabase.co")
}
