package workflow

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

//go:embed templates/*.yaml
var builtinTemplates embed.FS

// Template is one kind's graph plus the output node the executor consults
// first when collecting results
type Template struct {
	Kind       domain.JobKind
	TargetNode string
	Graph      domain.WorkflowGraph
}

type templateFile struct {
	TargetNode string               `yaml:"target_node"`
	Graph      domain.WorkflowGraph `yaml:"graph"`
}

// Library resolves job kinds to graph templates. Built-ins are embedded; a
// configured workflow directory overrides them per kind via <kind>.yaml.
type Library struct {
	templates map[domain.JobKind]*Template
	logger    logger.StyledLogger
}

func NewLibrary(workflowDir string, styledLogger logger.StyledLogger) (*Library, error) {
	lib := &Library{
		templates: make(map[domain.JobKind]*Template, len(domain.AllJobKinds())),
		logger:    styledLogger,
	}

	for _, kind := range domain.AllJobKinds() {
		raw, err := builtinTemplates.ReadFile(fmt.Sprintf("templates/%s.yaml", kind))
		if err != nil {
			return nil, fmt.Errorf("built-in workflow template %s: %w", kind, err)
		}
		tmpl, err := parseTemplate(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("built-in workflow template %s: %w", kind, err)
		}
		lib.templates[kind] = tmpl
	}

	if workflowDir != "" {
		if err := lib.loadOverrides(workflowDir); err != nil {
			return nil, err
		}
	}

	return lib, nil
}

// Get returns the template registered for the kind
func (l *Library) Get(kind domain.JobKind) (*Template, error) {
	tmpl, ok := l.templates[kind]
	if !ok {
		return nil, fmt.Errorf("no workflow template for kind %q", kind)
	}
	return tmpl, nil
}

// Kinds lists the kinds the library can serve
func (l *Library) Kinds() []domain.JobKind {
	kinds := make([]domain.JobKind, 0, len(l.templates))
	for kind := range l.templates {
		kinds = append(kinds, kind)
	}
	return kinds
}

func (l *Library) loadOverrides(dir string) error {
	for _, kind := range domain.AllJobKinds() {
		path := filepath.Join(dir, fmt.Sprintf("%s.yaml", kind))
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("workflow override %s: %w", path, err)
		}

		tmpl, err := parseTemplate(kind, raw)
		if err != nil {
			return fmt.Errorf("workflow override %s: %w", path, err)
		}

		l.templates[kind] = tmpl
		l.logger.Info("Workflow template overridden",
			"kind", kind.String(), "path", path, "nodes", len(tmpl.Graph))
	}
	return nil
}

func parseTemplate(kind domain.JobKind, raw []byte) (*Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(file.Graph) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}

	hasInput := false
	for _, node := range file.Graph {
		if node.Title() == domain.WorkflowInputTitle {
			hasInput = true
			break
		}
	}
	if !hasInput {
		return nil, fmt.Errorf("graph has no node titled %s to receive the image", domain.WorkflowInputTitle)
	}

	return &Template{Kind: kind, TargetNode: file.TargetNode, Graph: file.Graph}, nil
}
