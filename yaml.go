package quoro

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/phautamaki/quoro/pkg/api"
)

// YAML workflow definitions let deployments keep approval chains in config
// repositories instead of code:
//
//	name: Vendor contract review
//	trigger: resource_submitted
//	trigger_conditions:
//	  resource_type: contract
//	steps:
//	  - type: approval
//	    quorum: sequential
//	    approvers:
//	      - kind: user
//	        target: alice
//	      - kind: role
//	        target: legal
//	  - type: sla_timer
//	    duration_hours: 48
//	  - type: escalation
//	    payload:
//	      notify: cfo

type yamlApprover struct {
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"`
}

type yamlStep struct {
	Type          string            `yaml:"type"`
	Order         int               `yaml:"order"`
	Quorum        string            `yaml:"quorum"`
	Approvers     []yamlApprover    `yaml:"approvers"`
	DurationHours int               `yaml:"duration_hours"`
	Payload       map[string]string `yaml:"payload"`
}

type yamlWorkflow struct {
	Name              string            `yaml:"name"`
	Trigger           string            `yaml:"trigger"`
	TriggerConditions map[string]string `yaml:"trigger_conditions"`
	Steps             []yamlStep        `yaml:"steps"`
}

// ParseWorkflow decodes a YAML document into a WorkflowDraft. The draft is
// validated so malformed files fail here rather than at CreateWorkflow.
func ParseWorkflow(data []byte) (WorkflowDraft, error) {
	var doc yamlWorkflow
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return WorkflowDraft{}, fmt.Errorf("parse workflow yaml: %w", err)
	}

	draft := WorkflowDraft{
		Name:              doc.Name,
		Trigger:           TriggerType(doc.Trigger),
		TriggerConditions: doc.TriggerConditions,
	}
	for i, ys := range doc.Steps {
		step := api.StepDraft{
			Order: ys.Order,
			Type:  StepType(ys.Type),
		}
		if step.Order == 0 {
			step.Order = i + 1
		}

		switch step.Type {
		case StepApproval:
			cfg := api.ApprovalConfig{Quorum: QuorumRule(ys.Quorum)}
			for _, ya := range ys.Approvers {
				cfg.Approvers = append(cfg.Approvers, ApproverSpec{
					Kind:   ApproverKind(ya.Kind),
					Target: ya.Target,
				})
			}
			step.Config = cfg
		case StepSLATimer:
			step.Config = api.SLATimerConfig{DurationHours: ys.DurationHours}
		case StepNotification:
			step.Config = api.NotificationConfig{Payload: ys.Payload}
		case StepEscalation:
			step.Config = api.EscalationConfig{Payload: ys.Payload}
		case StepAction:
			step.Config = api.ActionConfig{Payload: ys.Payload}
		default:
			return WorkflowDraft{}, fmt.Errorf("%w: step %d has unknown type %q",
				api.ErrInvalidDefinition, i+1, ys.Type)
		}
		draft.Steps = append(draft.Steps, step)
	}

	if err := draft.Validate(); err != nil {
		return WorkflowDraft{}, err
	}
	return draft, nil
}

// LoadWorkflowFile reads and parses a YAML workflow definition from disk.
func LoadWorkflowFile(path string) (WorkflowDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkflowDraft{}, fmt.Errorf("read workflow file: %w", err)
	}
	return ParseWorkflow(data)
}
