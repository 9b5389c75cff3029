package workflow

import (
	"strings"
	"testing"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

func testJob(kind domain.JobKind, input domain.JobInput) *domain.Job {
	return &domain.Job{
		ID:          "7f3b2a10-0000-0000-0000-000000000000",
		Kind:        kind,
		Input:       input,
		Fingerprint: "job_7f3b2a10_1756100000000",
		CreatedAt:   time.Now(),
		State:       domain.JobStatePending,
	}
}

func TestPrepare_InjectsImageStrippingDataURL(t *testing.T) {
	lib, err := NewLibrary("", testStyledLogger())
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}

	job := testJob(domain.JobKindRemoveBackground, domain.JobInput{
		Image:  "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg==",
		Format: domain.ImageFormatPNG,
	})

	prepared, err := lib.Prepare(job)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	var injected string
	for _, node := range prepared.Graph {
		if node.Title() == domain.WorkflowInputTitle {
			injected, _ = node.Inputs["image"].(string)
		}
	}
	if injected != "iVBORw0KGgoAAAANSUhEUg==" {
		t.Errorf("input node image = %q, expected the bare base64 payload", injected)
	}
}

func TestPrepare_PlainBase64PassesThrough(t *testing.T) {
	lib, err := NewLibrary("", testStyledLogger())
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}

	job := testJob(domain.JobKindUpscaleImage, domain.JobInput{Image: "QkFSRQ=="})

	prepared, err := lib.Prepare(job)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	for _, node := range prepared.Graph {
		if node.Title() == domain.WorkflowInputTitle {
			if got, _ := node.Inputs["image"].(string); got != "QkFSRQ==" {
				t.Errorf("input node image = %q, expected the payload unchanged", got)
			}
		}
	}
}

func TestPrepare_SavePrefixCarriesFingerprint(t *testing.T) {
	lib, err := NewLibrary("", testStyledLogger())
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}

	job := testJob(domain.JobKindRemoveBackground, domain.JobInput{Image: "QQ=="})

	prepared, err := lib.Prepare(job)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	found := false
	for _, node := range prepared.Graph {
		if !strings.Contains(node.ClassType, domain.WorkflowSaveClass) {
			continue
		}
		found = true
		prefix, _ := node.Inputs["filename_prefix"].(string)
		if !strings.HasSuffix(prefix, job.Fingerprint) {
			t.Errorf("filename_prefix = %q, expected it to end with %q", prefix, job.Fingerprint)
		}
		if !strings.HasPrefix(prefix, "cmw/remove-background") {
			t.Errorf("filename_prefix = %q lost the template prefix", prefix)
		}
	}
	if !found {
		t.Fatalf("no save node in the prepared graph")
	}
}

func TestPrepare_AppliesFormatAndCrop(t *testing.T) {
	lib, err := NewLibrary("", testStyledLogger())
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}

	job := testJob(domain.JobKindRemoveBackground, domain.JobInput{
		Image:  "QQ==",
		Format: domain.ImageFormatWEBP,
		Crop:   true,
	})

	prepared, err := lib.Prepare(job)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	formatApplied := false
	cropApplied := false
	for _, node := range prepared.Graph {
		if got, ok := node.Inputs["format"]; ok {
			formatApplied = true
			if got != "WEBP" {
				t.Errorf("format input = %v, expected WEBP", got)
			}
		}
		if got, ok := node.Inputs["crop"]; ok {
			cropApplied = true
			if got != true {
				t.Errorf("crop input = %v, expected true", got)
			}
		}
	}
	if !formatApplied {
		t.Errorf("no node exposing a format input was updated")
	}
	if !cropApplied {
		t.Errorf("no node exposing a crop input was updated")
	}
}

func TestPrepare_TemplateNotMutated(t *testing.T) {
	lib, err := NewLibrary("", testStyledLogger())
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}

	job := testJob(domain.JobKindUpscaleRemoveBG, domain.JobInput{
		Image:  "bXV0YXRpb24=",
		Format: domain.ImageFormatJPEG,
		Crop:   true,
	})

	if _, err := lib.Prepare(job); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	tmpl, err := lib.Get(domain.JobKindUpscaleRemoveBG)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for _, node := range tmpl.Graph {
		if node.Title() == domain.WorkflowInputTitle {
			if got, _ := node.Inputs["image"].(string); got != "" {
				t.Errorf("stored template image input = %q, expected it untouched", got)
			}
		}
		if strings.Contains(node.ClassType, domain.WorkflowSaveClass) {
			prefix, _ := node.Inputs["filename_prefix"].(string)
			if strings.Contains(prefix, job.Fingerprint) {
				t.Errorf("stored template filename_prefix %q absorbed a fingerprint", prefix)
			}
		}
	}
}

func TestPrepare_DistinctJobsGetDistinctPrefixes(t *testing.T) {
	lib, err := NewLibrary("", testStyledLogger())
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}

	first := testJob(domain.JobKindUpscaleImage, domain.JobInput{Image: "QQ=="})
	second := testJob(domain.JobKindUpscaleImage, domain.JobInput{Image: "QQ=="})
	second.Fingerprint = "job_9c41d2aa_1756100000999"

	preparedFirst, err := lib.Prepare(first)
	if err != nil {
		t.Fatalf("Prepare(first) failed: %v", err)
	}
	preparedSecond, err := lib.Prepare(second)
	if err != nil {
		t.Fatalf("Prepare(second) failed: %v", err)
	}

	prefixOf := func(g domain.WorkflowGraph) string {
		for _, node := range g {
			if strings.Contains(node.ClassType, domain.WorkflowSaveClass) {
				prefix, _ := node.Inputs["filename_prefix"].(string)
				return prefix
			}
		}
		return ""
	}

	if a, b := prefixOf(preparedFirst.Graph), prefixOf(preparedSecond.Graph); a == b {
		t.Errorf("identical submissions share the save prefix %q", a)
	}
}

func TestPrepare_UnknownKind(t *testing.T) {
	lib, err := NewLibrary("", testStyledLogger())
	if err != nil {
		t.Fatalf("NewLibrary failed: %v", err)
	}

	job := testJob(domain.JobKind("sepia-filter"), domain.JobInput{Image: "QQ=="})
	if _, err := lib.Prepare(job); err == nil {
		t.Errorf("expected Prepare to fail for an unregistered kind")
	}
}
