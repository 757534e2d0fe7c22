package fetcher

import (
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

const minDetectConfidence = 50

// Converts body to UTF-8. A charset declared by the header, a BOM or a meta
// tag wins; otherwise the bytes are sniffed.
func decodeBody(body []byte, contentType string) ([]byte, string) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)

	// windows-1252 is also what DetermineEncoding reports when nothing was
	// declared and the bytes are not valid UTF-8.
	if !certain && name == "windows-1252" && !declaresCharset(body) {
		if detected, err := chardet.NewTextDetector().DetectBest(body); err == nil && detected.Confidence >= minDetectConfidence {
			if e, err := htmlindex.Get(detected.Charset); err == nil {
				enc = e
				if canonical, err := htmlindex.Name(e); err == nil {
					name = canonical
				}
			}
		}
	}

	if name == "utf-8" {
		return body, name
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body, name
	}
	return decoded, name
}

// Reports whether the document prefix carries a meta charset declaration.
func declaresCharset(b []byte) bool {
	if len(b) > 1024 {
		b = b[:1024]
	}
	return strings.Contains(strings.ToLower(string(b)), "charset")
}
