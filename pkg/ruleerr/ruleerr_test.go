package ruleerr

import (
	"errors"
	"fmt"
	"testing"
)

var errSentinel = errors.New("sentinel")

func TestWrap_PreservesSentinel(t *testing.T) {
	err := Wrap(ConsensusRule, errSentinel)
	if !errors.Is(err, errSentinel) {
		t.Fatal("wrapped error should still match sentinel")
	}
	if KindOf(err) != ConsensusRule {
		t.Errorf("KindOf = %v, want consensus", KindOf(err))
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(Policy, nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestKindOf_ThroughFmtWrap(t *testing.T) {
	inner := Errorf(ResourceLimit, "too big: %w", errSentinel)
	outer := fmt.Errorf("block 7: %w", inner)
	if KindOf(outer) != ResourceLimit {
		t.Errorf("KindOf = %v, want resource-limit", KindOf(outer))
	}
	if !errors.Is(outer, errSentinel) {
		t.Error("errors.Is should see the sentinel through both layers")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if KindOf(errSentinel) != Unknown {
		t.Error("plain error should be unknown")
	}
	if KindOf(nil) != Unknown {
		t.Error("nil should be unknown")
	}
}

func TestKind_String(t *testing.T) {
	tests := map[Kind]string{
		Structural:    "structural",
		ConsensusRule: "consensus",
		Policy:        "policy",
		ResourceLimit: "resource-limit",
		Unknown:       "unknown",
	}
	for k, want := range tests {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), want)
		}
	}
}
