package util

import "testing"

func TestResolveURLPath(t *testing.T) {
	tests := []struct {
		name      string
		baseURL   string
		pathOrURL string
		expected  string
	}{
		{
			name:      "base without trailing slash, path with leading slash",
			baseURL:   "http://worker-1:8188",
			pathOrURL: "/system_stats",
			expected:  "http://worker-1:8188/system_stats",
		},
		{
			name:      "base with trailing slash, path with leading slash",
			baseURL:   "http://worker-1:8188/",
			pathOrURL: "/prompt",
			expected:  "http://worker-1:8188/prompt",
		},
		{
			name:      "base with path prefix",
			baseURL:   "http://worker-1:8188/comfy",
			pathOrURL: "/history/abc123",
			expected:  "http://worker-1:8188/comfy/history/abc123",
		},
		{
			name:      "path without leading slash",
			baseURL:   "http://worker-1:8188",
			pathOrURL: "view",
			expected:  "http://worker-1:8188/view",
		},
		{
			name:      "empty base",
			baseURL:   "",
			pathOrURL: "/prompt",
			expected:  "/prompt",
		},
		{
			name:      "empty path",
			baseURL:   "http://worker-1:8188",
			pathOrURL: "",
			expected:  "http://worker-1:8188",
		},
		{
			name:      "absolute URL overrides base completely",
			baseURL:   "http://worker-1:8188",
			pathOrURL: "http://worker-2:8188/prompt",
			expected:  "http://worker-2:8188/prompt",
		},
		{
			name:      "base URL with query params",
			baseURL:   "http://worker-1:8188/view?type=output",
			pathOrURL: "/image.png",
			expected:  "http://worker-1:8188/view/image.png?type=output",
		},
		{
			name:      "both empty",
			baseURL:   "",
			pathOrURL: "",
			expected:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ResolveURLPath(tc.baseURL, tc.pathOrURL)
			if result != tc.expected {
				t.Errorf("ResolveURLPath(%q, %q) = %q, expected %q",
					tc.baseURL, tc.pathOrURL, result, tc.expected)
			}
		})
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		clientID string
		expected string
	}{
		{
			name:     "http base",
			baseURL:  "http://worker-1:8188",
			clientID: "client-a",
			expected: "ws://worker-1:8188/ws?clientId=client-a",
		},
		{
			name:     "https base",
			baseURL:  "https://worker-1:8188",
			clientID: "client-b",
			expected: "wss://worker-1:8188/ws?clientId=client-b",
		},
		{
			name:     "base with path prefix",
			baseURL:  "http://worker-1:8188/comfy",
			clientID: "client-c",
			expected: "ws://worker-1:8188/comfy/ws?clientId=client-c",
		},
		{
			name:     "base with trailing slash",
			baseURL:  "http://worker-1:8188/",
			clientID: "client-d",
			expected: "ws://worker-1:8188/ws?clientId=client-d",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := WebSocketURL(tc.baseURL, tc.clientID)
			if result != tc.expected {
				t.Errorf("WebSocketURL(%q, %q) = %q, expected %q",
					tc.baseURL, tc.clientID, result, tc.expected)
			}
		})
	}
}

func TestNormaliseBaseURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://worker-1:8188/", "http://worker-1:8188"},
		{"http://worker-1:8188", "http://worker-1:8188"},
		{"", ""},
		{"/", "/"},
	}

	for _, tc := range tests {
		if got := NormaliseBaseURL(tc.input); got != tc.expected {
			t.Errorf("NormaliseBaseURL(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}
