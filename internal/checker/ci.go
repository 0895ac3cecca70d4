package checker

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

var deployKeywords = []string{"deploy", "release", "publish"}

type workflowFile struct {
	Name string               `yaml:"name"`
	On   yaml.Node            `yaml:"on"`
	Jobs map[string]yaml.Node `yaml:"jobs"`
}

// workflowAnalysis is what the CI check needs to know about one workflow
type workflowAnalysis struct {
	Deploys    bool
	BranchPush bool
}

// analyzeWorkflow parses a workflow definition. A workflow deploys when its
// name or path mentions deploy/release/publish or a job targets an environment.
// It runs on branch push when push has no filter, filters on branches, or
// filters only on paths.
func analyzeWorkflow(wf domain.Workflow) (workflowAnalysis, error) {
	var file workflowFile
	if err := yaml.Unmarshal([]byte(wf.Content), &file); err != nil {
		return workflowAnalysis{}, fmt.Errorf("parse %s: %w", wf.Path, err)
	}

	name := wf.Name
	if name == "" {
		name = file.Name
	}
	return workflowAnalysis{
		Deploys:    mentionsDeploy(name) || mentionsDeploy(wf.Path) || jobsUseEnvironment(file.Jobs),
		BranchPush: triggersOnBranchPush(&file.On),
	}, nil
}

func mentionsDeploy(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range deployKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func jobsUseEnvironment(jobs map[string]yaml.Node) bool {
	for _, job := range jobs {
		if job.Kind != yaml.MappingNode {
			continue
		}
		for i := 0; i+1 < len(job.Content); i += 2 {
			if job.Content[i].Value == "environment" && !isNull(job.Content[i+1]) {
				return true
			}
		}
	}
	return false
}

func triggersOnBranchPush(on *yaml.Node) bool {
	switch on.Kind {
	case yaml.ScalarNode:
		return on.Value == "push"
	case yaml.SequenceNode:
		for _, item := range on.Content {
			if item.Kind == yaml.ScalarNode && item.Value == "push" {
				return true
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(on.Content); i += 2 {
			if on.Content[i].Value == "push" {
				return pushFilterIncludesBranches(on.Content[i+1])
			}
		}
	}
	return false
}

func pushFilterIncludesBranches(push *yaml.Node) bool {
	if isNull(push) || push.Kind != yaml.MappingNode {
		return true
	}
	hasBranches, hasTags := false, false
	for i := 0; i+1 < len(push.Content); i += 2 {
		switch push.Content[i].Value {
		case "branches", "branches-ignore":
			hasBranches = true
		case "tags", "tags-ignore":
			hasTags = true
		}
	}
	return hasBranches || !hasTags
}

func isNull(n *yaml.Node) bool {
	return n == nil || n.Kind == 0 || (n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || n.Value == ""))
}
