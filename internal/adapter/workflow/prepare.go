package workflow

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Prepare returns a submission-ready graph for the job: a deep copy of the
// kind's template with the image written into every input sentinel node, save
// prefixes made unique per submission, and format/crop applied wherever the
// template exposes those inputs. The stored template is never mutated.
func (l *Library) Prepare(job *domain.Job) (*ports.PreparedWorkflow, error) {
	tmpl, err := l.Get(job.Kind)
	if err != nil {
		return nil, err
	}

	graph, err := cloneGraph(tmpl.Graph)
	if err != nil {
		return nil, fmt.Errorf("clone workflow graph for %s: %w", job.Kind, err)
	}

	image := util.StripDataURL(job.Input.Image)
	inputNodes := 0

	for id, node := range graph {
		if node.Inputs == nil {
			node.Inputs = make(map[string]any, 1)
			graph[id] = node
		}

		if node.Title() == domain.WorkflowInputTitle {
			node.Inputs["image"] = image
			inputNodes++
		}

		if strings.Contains(node.ClassType, domain.WorkflowSaveClass) {
			prefix, _ := node.Inputs["filename_prefix"].(string)
			node.Inputs["filename_prefix"] = suffixFingerprint(prefix, job.Fingerprint)
		}

		if _, ok := node.Inputs["format"]; ok && job.Input.Format != "" {
			node.Inputs["format"] = string(job.Input.Format)
		}
		if _, ok := node.Inputs["crop"]; ok {
			node.Inputs["crop"] = job.Input.Crop
		}
	}

	if inputNodes == 0 {
		return nil, fmt.Errorf("workflow template for %s has no node titled %s", job.Kind, domain.WorkflowInputTitle)
	}

	return &ports.PreparedWorkflow{Graph: graph, TargetNode: tmpl.TargetNode}, nil
}

// suffixFingerprint defeats upstream graph-level result caching: identical
// submissions must still produce distinct save prefixes
func suffixFingerprint(prefix, fingerprint string) string {
	if prefix == "" {
		return fingerprint
	}
	return prefix + "_" + fingerprint
}

func cloneGraph(g domain.WorkflowGraph) (domain.WorkflowGraph, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}

	var out domain.WorkflowGraph
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
