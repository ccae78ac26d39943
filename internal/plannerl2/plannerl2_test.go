// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package plannerl2_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/common/config"
	"github.com/Axion-inc/DesktopAgent/internal/dslmodel"
	"github.com/Axion-inc/DesktopAgent/internal/errtaxonomy"
	"github.com/Axion-inc/DesktopAgent/internal/plannerl2"
	"github.com/Axion-inc/DesktopAgent/internal/webengine"
)

type fakeAuditPersister struct {
	mu      sync.Mutex
	entries []string
}

func (p *fakeAuditPersister) AppendAudit(ctx context.Context, runID *int64, event, detail string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, detail)
	return nil
}

// TestEngine_ProposeReplaceText_MatchesJapaneseSynonym mirrors spec
// scenario S6: a click_by_text(text="送信") failure with a DOM schema
// containing a visible button labeled "確定".
func TestEngine_ProposeReplaceText_MatchesJapaneseSynonym(t *testing.T) {
	e := plannerl2.New(config.AdoptPolicyConfig{LowRiskAuto: true, MinConfidence: 0.85, MaxAutoChanges: 3})
	step := &dslmodel.Step{Index: 4, Action: "click_by_text", Params: map[string]interface{}{"text": "送信", "role": "button"}}
	nodes := []webengine.SchemaNode{
		{Selector: "#submit", Role: "button", Text: "確定", Visible: true},
	}

	patch, ok := e.Propose(4, step, errtaxonomy.CodeWebElementMissing, nodes)
	require.True(t, ok)
	assert.Equal(t, plannerl2.PatchReplaceText, patch.Kind)
	assert.Equal(t, "確定", patch.NewValue)
	assert.GreaterOrEqual(t, patch.Confidence, 0.85)

	applied := plannerl2.Apply(step, patch)
	assert.Equal(t, "確定", applied.Params["text"])
	assert.Equal(t, "送信", step.Params["text"], "original step must be unmodified")
}

func TestEngine_ProposeReplaceText_NoMatchFallsThrough(t *testing.T) {
	e := plannerl2.New(config.AdoptPolicyConfig{})
	step := &dslmodel.Step{Index: 0, Action: "click_by_text", Params: map[string]interface{}{"text": "delete account"}}
	nodes := []webengine.SchemaNode{{Selector: "#x", Text: "unrelated", Visible: true}}

	_, ok := e.ProposeReplaceText(0, step, nodes)
	assert.False(t, ok)
}

func TestEngine_ProposeFallbackSearch_SubstringMatch(t *testing.T) {
	e := plannerl2.New(config.AdoptPolicyConfig{})
	step := &dslmodel.Step{Index: 1, Action: "click_by_text", Params: map[string]interface{}{"text": "weekly report"}}
	nodes := []webengine.SchemaNode{{Selector: "#r", Text: "Weekly Report (Draft)", Visible: true}}

	patch, ok := e.ProposeFallbackSearch(1, step, nodes)
	require.True(t, ok)
	assert.Equal(t, plannerl2.PatchFallbackSearch, patch.Kind)
	assert.Less(t, patch.Confidence, 0.9)
}

func TestEngine_ProposeWaitTuning_DoublesTimeoutOnVerifierTimeout(t *testing.T) {
	e := plannerl2.New(config.AdoptPolicyConfig{})
	step := &dslmodel.Step{Index: 2, Action: "wait_for_element", Params: map[string]interface{}{"timeout_ms": 2000}}

	patch, ok := e.ProposeWaitTuning(2, step, errtaxonomy.CodeVerifierTimeout)
	require.True(t, ok)
	assert.Equal(t, "4000", patch.NewValue)
}

func TestEngine_ProposeWaitTuning_IgnoresNonTimingFailures(t *testing.T) {
	e := plannerl2.New(config.AdoptPolicyConfig{})
	step := &dslmodel.Step{Index: 2, Action: "wait_for_element", Params: map[string]interface{}{}}

	_, ok := e.ProposeWaitTuning(2, step, errtaxonomy.CodeWebElementMissing)
	assert.False(t, ok)
}

func TestEngine_Decide_RespectsMinConfidenceAndMaxAutoChanges(t *testing.T) {
	e := plannerl2.New(config.AdoptPolicyConfig{LowRiskAuto: true, MinConfidence: 0.8, MaxAutoChanges: 1})
	high := &plannerl2.Patch{Confidence: 0.9}
	low := &plannerl2.Patch{Confidence: 0.5}

	assert.False(t, e.Decide(1, low), "below min_confidence must not adopt")
	assert.True(t, e.Decide(1, high), "first high-confidence patch for this run adopts")
	assert.False(t, e.Decide(1, high), "second patch for the same run exceeds max_auto_changes")
	assert.True(t, e.Decide(2, high), "a different run has its own budget")
}

func TestEngine_Decide_DisabledWhenLowRiskAutoOff(t *testing.T) {
	e := plannerl2.New(config.AdoptPolicyConfig{LowRiskAuto: false, MinConfidence: 0, MaxAutoChanges: 10})
	assert.False(t, e.Decide(1, &plannerl2.Patch{Confidence: 1}))
}

func TestEngine_Record_WritesAuditEntry(t *testing.T) {
	e := plannerl2.New(config.AdoptPolicyConfig{})
	pers := &fakeAuditPersister{}
	patch := &plannerl2.Patch{Kind: plannerl2.PatchReplaceText, StepIndex: 4, ParamKey: "text", OldValue: "送信", NewValue: "確定", Confidence: 0.9}

	e.Record(context.Background(), pers, 7, patch, true)
	require.Len(t, pers.entries, 1)
	assert.Contains(t, pers.entries[0], "送信")
	assert.Contains(t, pers.entries[0], "確定")
}
