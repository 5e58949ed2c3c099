package imgcache

import "encoding/base64"

// DataURI encodes data as a self-contained data: URI that browsers can
// render without a further network round trip. The output is
// deterministic for identical input.
func DataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
