package httpapi

import (
	"net/http"
	"strings"
)

// cookieCapture wraps a ResponseWriter so a named cookie set during the
// request can be pulled back out of the pending response. The login handler
// issues the remember-me cookie through it; when MFA is still pending the
// cookie is deferred onto the token rather than sent.
type cookieCapture struct {
	http.ResponseWriter
	name string
}

func newCookieCapture(w http.ResponseWriter, name string) *cookieCapture {
	return &cookieCapture{ResponseWriter: w, name: name}
}

// Take removes the named cookies from the pending response headers and
// returns their raw Set-Cookie values.
func (c *cookieCapture) Take() []string {
	h := c.Header()
	all := h["Set-Cookie"]
	var taken []string
	kept := all[:0]
	for _, v := range all {
		if strings.HasPrefix(v, c.name+"=") {
			taken = append(taken, v)
		} else {
			kept = append(kept, v)
		}
	}
	if len(taken) == 0 {
		return nil
	}
	if len(kept) == 0 {
		h.Del("Set-Cookie")
	} else {
		h["Set-Cookie"] = kept
	}
	return taken
}

// Release leaves any captured cookies in the response untouched.
func (c *cookieCapture) Release() {}
