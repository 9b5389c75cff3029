package domain

// Workflow graphs are opaque node maps shipped to the worker verbatim. The
// core understands exactly two semantic hooks: the input-image title sentinel
// and the save-node class, both matched by the graph rewriter.
const (
	// WorkflowInputTitle marks nodes that receive the uploaded image bytes
	WorkflowInputTitle = "InputImageBase64"

	// WorkflowSaveClass marks node classes whose filename_prefix must be
	// unique per submission to defeat upstream result caching
	WorkflowSaveClass = "SaveImage"
)

// WorkflowGraph maps node id to node, mirroring the worker's prompt format
type WorkflowGraph map[string]WorkflowNode

type WorkflowNode struct {
	ClassType string            `json:"class_type" yaml:"class_type"`
	Inputs    map[string]any    `json:"inputs" yaml:"inputs"`
	Meta      *WorkflowNodeMeta `json:"_meta,omitempty" yaml:"_meta,omitempty"`
}

type WorkflowNodeMeta struct {
	Title string `json:"title" yaml:"title"`
}

// Title returns the node's display title, empty when no metadata is present
func (n WorkflowNode) Title() string {
	if n.Meta == nil {
		return ""
	}
	return n.Meta.Title
}
