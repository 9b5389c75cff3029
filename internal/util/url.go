package util

import (
	"net/url"
	"path"
)

// ResolveURLPath joins an endpoint path onto a worker base URL. Absolute
// URLs pass through untouched; anything else is appended to the base's
// path with path.Join, so a prefix like "/comfy" in the base survives.
// url.ResolveReference would discard that prefix for leading-slash paths,
// which is why it is not used here.
//
// ResolveURLPath("http://worker-1:8188/comfy", "/prompt") yields
// "http://worker-1:8188/comfy/prompt".
func ResolveURLPath(baseURL, pathOrURL string) string {
	switch {
	case baseURL == "":
		return pathOrURL
	case pathOrURL == "":
		return baseURL
	}

	if abs, err := url.Parse(pathOrURL); err == nil && abs.IsAbs() {
		return pathOrURL
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return pathOrURL
	}

	base.Path = path.Join(base.Path, pathOrURL)
	return base.String()
}

// WebSocketURL converts an http(s) base URL into the ws(s) endpoint for the
// worker's event stream, carrying the client id as a query parameter.
func WebSocketURL(baseURL, clientID string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}

	parsed.Path = path.Join(parsed.Path, "/ws")
	query := parsed.Query()
	query.Set("clientId", clientID)
	parsed.RawQuery = query.Encode()

	return parsed.String()
}
