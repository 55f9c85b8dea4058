package domain

import (
	"testing"
	"testing/quick"
)

// TestConfiguration_ApplyProperties verifies that any sequence of patches
// drawn from the catalog leaves a configuration whose sub-category belongs to
// its intent.
func TestConfiguration_ApplyProperties(t *testing.T) {
	intents := Intents()
	modes := FailureModes()

	property := func(steps []uint16) bool {
		cfg := DefaultConfiguration()
		for _, s := range steps {
			in := intents[int(s)%len(intents)]
			other := intents[int(s>>4)%len(intents)]
			subs := other.SubCategories()
			sub := subs[int(s>>8)%len(subs)]
			fm := modes[int(s>>12)%len(modes)]

			patch := ConfigurationPatch{FailureMode: &fm}
			if s&1 == 0 {
				patch.Intent = &in
			}
			if s&2 == 0 {
				patch.SubCategory = &sub
			}
			cfg = cfg.Apply(patch)
			if cfg.Validate() != nil {
				return false
			}
		}
		return true
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}
