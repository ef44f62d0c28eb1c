package httpmsg

import (
	"regexp"

	"github.com/swordli/mitmproxy/pkg/contentcoding"
)

// ReplaceRequest applies pat/repl to the request's path, headers, and
// body, decoding the body first if it carries a supported
// Content-Encoding and re-encoding it afterward. Returns the total
// number of substitutions.
func ReplaceRequest(r *Request, pat *regexp.Regexp, repl string) int {
	count := 0

	newPath := pat.ReplaceAllStringFunc(r.Path, func(s string) string {
		count++
		return pat.ReplaceAllString(s, repl)
	})
	r.Path = newPath

	count += r.Headers.Replace(pat, repl)

	if r.Content.Present() {
		encoding, _ := r.Headers.GetFirst("Content-Encoding")
		count += replaceBody(&r.Content, encoding, pat, repl)
	}

	return count
}

// ReplaceResponse applies pat/repl to the response's headers and body,
// with the same decode-replace-re-encode handling as ReplaceRequest.
func ReplaceResponse(resp *Response, pat *regexp.Regexp, repl string) int {
	count := resp.Headers.Replace(pat, repl)
	if resp.Content.Present() {
		encoding, _ := resp.Headers.GetFirst("Content-Encoding")
		count += replaceBody(&resp.Content, encoding, pat, repl)
	}
	return count
}

func replaceBody(body *Body, encoding string, pat *regexp.Regexp, repl string) int {
	count := 0
	decoded, br, _ := contentcoding.Enter(encoding, body.Data())
	mutated := pat.ReplaceAllFunc(decoded, func(m []byte) []byte {
		count++
		return pat.ReplaceAll(m, []byte(repl))
	})
	reencoded, err := br.Exit(mutated)
	if err != nil {
		return count
	}
	*body = body.WithData(reencoded)
	return count
}
