package app

import (
	"net/http"
	"runtime"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/version"
)

type VersionResponse struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Build       BuildInfo         `json:"build"`
	JobKinds    []string          `json:"job_kinds"`
	API         APIInfo           `json:"api"`
	Links       map[string]string `json:"links"`
}

type BuildInfo struct {
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

type APIInfo struct {
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (a *Application) versionHandler(w http.ResponseWriter, r *http.Request) {
	kinds := make([]string, 0, len(domain.AllJobKinds()))
	for _, kind := range domain.AllJobKinds() {
		kinds = append(kinds, kind.String())
	}

	writeJSON(w, http.StatusOK, VersionResponse{
		Name:        version.Name,
		Version:     version.Version,
		Description: version.Description,
		Build: BuildInfo{
			Commit:    version.Commit,
			Date:      version.Date,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		},
		JobKinds: kinds,
		API: APIInfo{
			Version: "v1",
			Endpoints: map[string]string{
				"process": "/api/{kind}",
				"async":   "/api/async/{kind}",
				"jobs":    "/api/jobs/list",
				"health":  "/health",
				"status":  "/status",
				"metrics": "/api/metrics",
				"version": "/version",
			},
		},
		Links: map[string]string{
			"homepage":      version.GithubHomeUri,
			"documentation": version.GithubHomeUri + "#readme",
			"releases":      version.GithubLatestUri,
		},
	})
}
