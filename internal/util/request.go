package util

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
)

// Request ids read like darkroom chatter: sepia_masking_1a2b.
var (
	requestActions = []string{
		"masking", "matting", "blending", "cropping", "scaling",
		"sharpening", "denoising", "rendering", "tracing", "toning",
		"sampling", "encoding", "stitching", "layering", "exposing",
	}
	requestPrints = []string{
		"sepia", "matte", "glossy", "lustre", "canvas",
		"giclee", "platinum", "albumen", "tintype", "cyanotype",
		"bromide", "carbon", "gravure", "collodion", "ferrotype",
	}
)

func GenerateRequestID() string {
	return fmt.Sprintf("%s_%s_%04x",
		requestPrints[rand.Intn(len(requestPrints))],
		requestActions[rand.Intn(len(requestActions))],
		rand.Intn(65536))
}

// GetClientIP resolves the caller address. Proxy headers are honoured only
// when enabled and the request source sits inside a trusted CIDR; anything
// else falls back to the socket peer, so untrusted clients cannot spoof an
// address through X-Forwarded-For.
func GetClientIP(r *http.Request, trustProxyHeaders bool, trustedCIDRs []*net.IPNet) string {
	if trustProxyHeaders && trustedSource(r, trustedCIDRs) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// first entry is the originating client
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}
	return peerAddress(r)
}

func trustedSource(r *http.Request, trustedCIDRs []*net.IPNet) bool {
	source := net.ParseIP(peerAddress(r))
	return source != nil && isIPInTrustedCIDRs(source, trustedCIDRs)
}

func peerAddress(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
