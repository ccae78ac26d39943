// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package dslmodel

import (
	"fmt"

	yamlv2 "gopkg.in/yaml.v2"
	"gopkg.in/yaml.v3"
)

// reservedStepKeys are the sibling keys that ride alongside the single
// action key in a step mapping. Anything else is treated as the action.
var reservedStepKeys = map[string]bool{
	"when": true, "engine": true, "required_role": true, "timeout_ms": true,
}

// UnmarshalYAML decodes a step mapping of the shape:
//
//	- find_files:
//	    query: "*.pdf"
//	  when: "..."
//	  required_role: "approver"
//
// yaml.v3's Node API is used (rather than map[string]interface{}) so the
// single non-reserved key — the action name — is recovered deterministically
// instead of relying on Go's randomized map iteration order (spec §4.A).
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("step must be a mapping, got %v", node.Kind)
	}
	s.Params = nil
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]
		key := keyNode.Value

		if reservedStepKeys[key] {
			switch key {
			case "when":
				if err := valNode.Decode(&s.When); err != nil {
					return fmt.Errorf("when: %w", err)
				}
			case "engine":
				if err := valNode.Decode(&s.Engine); err != nil {
					return fmt.Errorf("engine: %w", err)
				}
			case "required_role":
				if err := valNode.Decode(&s.RequiredRole); err != nil {
					return fmt.Errorf("required_role: %w", err)
				}
			case "timeout_ms":
				if err := valNode.Decode(&s.TimeoutMs); err != nil {
					return fmt.Errorf("timeout_ms: %w", err)
				}
			}
			continue
		}

		if s.Action != "" {
			return fmt.Errorf("step declares two actions: %q and %q", s.Action, key)
		}
		s.Action = key

		params := map[string]interface{}{}
		if valNode.Kind == yaml.MappingNode {
			if err := valNode.Decode(&params); err != nil {
				return fmt.Errorf("action %s params: %w", key, err)
			}
		} else if valNode.Kind != yaml.ScalarNode || valNode.Tag != "!!null" {
			return fmt.Errorf("action %s: params must be a mapping", key)
		}
		s.Params = params
	}
	if s.Action == "" {
		return fmt.Errorf("step mapping has no action key")
	}
	return nil
}

// MarshalYAML re-emits a step as a single-key mapping plus its reserved
// sibling keys, the inverse of UnmarshalYAML. Used by the signer (§4.C) to
// produce canonical bytes.
func (s *Step) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	actionVal := &yaml.Node{}
	if err := actionVal.Encode(s.Params); err != nil {
		return nil, err
	}
	appendPair(node, s.Action, actionVal)
	if s.When != "" {
		appendScalar(node, "when", s.When)
	}
	if s.Engine != "" {
		appendScalar(node, "engine", s.Engine)
	}
	if s.RequiredRole != "" {
		appendScalar(node, "required_role", s.RequiredRole)
	}
	if s.TimeoutMs != 0 {
		keyN := &yaml.Node{Kind: yaml.ScalarNode, Value: "timeout_ms"}
		valN := &yaml.Node{}
		_ = valN.Encode(s.TimeoutMs)
		node.Content = append(node.Content, keyN, valN)
	}
	return node, nil
}

func appendPair(node *yaml.Node, key string, val *yaml.Node) {
	keyN := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
	node.Content = append(node.Content, keyN, val)
}

func appendScalar(node *yaml.Node, key, val string) {
	keyN := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
	valN := &yaml.Node{Kind: yaml.ScalarNode, Value: val}
	node.Content = append(node.Content, keyN, valN)
}

// ParseError carries a step index so callers can render a human-readable
// line pointer (spec §4.B requires this even though rendering itself lives
// in the validator package).
type ParseError struct {
	StepIndex int
	Err       error
}

func (e *ParseError) Error() string {
	if e.StepIndex < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("step %d: %s", e.StepIndex, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// legacyPlan mirrors the pre-1.1 plan shape that used plain map decoding.
// Any document presenting dsl_version "1.0" is parsed with yaml.v2 via this
// struct purely so Validate can produce a precise "unsupported dsl_version"
// diagnostic instead of a generic parse failure; it is never executed.
type legacyPlan struct {
	DSLVersion string                   `yaml:"dsl_version"`
	Name       string                   `yaml:"name"`
	Steps      []map[string]interface{} `yaml:"steps"`
}

// sniffVersion cheaply recovers dsl_version without committing to either
// parser, so Parse can route to the right one.
func sniffVersion(doc []byte) string {
	var probe struct {
		DSLVersion string `yaml:"dsl_version"`
	}
	if err := yaml.Unmarshal(doc, &probe); err != nil {
		return ""
	}
	return probe.DSLVersion
}

// Parse decodes a plan document. Documents declaring the legacy
// dsl_version "1.0" are parsed with gopkg.in/yaml.v2 against legacyPlan so
// the version-mismatch diagnostic is precise; every other document is
// parsed with yaml.v3, whose Node-based step decoder keeps steps in the
// order authored. Variables and each step's params decode into Go maps,
// so their key order is not kept.
func Parse(doc []byte) (*Plan, error) {
	if v := sniffVersion(doc); v == "1.0" {
		var lp legacyPlan
		if err := yamlv2.Unmarshal(doc, &lp); err != nil {
			return nil, &ParseError{StepIndex: -1, Err: fmt.Errorf("legacy parse: %w", err)}
		}
		return &Plan{DSLVersion: lp.DSLVersion, Name: lp.Name}, nil
	}

	var plan Plan
	if err := yaml.Unmarshal(doc, &plan); err != nil {
		return nil, &ParseError{StepIndex: -1, Err: err}
	}
	for i, step := range plan.Steps {
		step.Index = i
	}
	return &plan, nil
}

// CanonicalBytes re-serializes the plan, with its Signature field cleared,
// to the deterministic byte form the signer computes its Ed25519 signature
// over (spec §4.C). yaml.v3's encoder is used directly (not
// json.Marshal+sort) because the plan's own MarshalYAML methods already
// guarantee field and step order.
func CanonicalBytes(p *Plan) ([]byte, error) {
	cp := *p
	cp.Signature = nil
	return yaml.Marshal(&cp)
}
