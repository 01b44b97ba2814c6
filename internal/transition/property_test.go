//go:build property

package transition

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ppiankov/trustgate/internal/clientstore"
	"github.com/ppiankov/trustgate/internal/liststore"
	"github.com/ppiankov/trustgate/internal/model"
)

var actions = []model.TransitionAction{model.Promote, model.Demote, model.Block, model.Unblock, model.GrantAdmin, model.RevokeAdmin}

// Property: every successful promote or demote moves exactly one step along
// stranger, contact, whitelist, and once blocked only unblock leaves blocked.
func TestTransitionSequences(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	rank := map[model.TrustLevel]int{model.Stranger: 0, model.Contact: 1, model.Whitelist: 2}

	properties.Property("promotion is single-step and blocked is sticky", prop.ForAll(
		func(seq []int) bool {
			lists, err := liststore.Open(t.TempDir())
			if err != nil {
				return false
			}
			m, err := New(context.Background(), Config{Self: "owner", Lists: lists, Clients: clientstore.NewMemoryStore()})
			if err != nil {
				return false
			}
			for _, n := range seq {
				action := actions[n%len(actions)]
				before := m.LevelOf("x")
				after, err := m.Transition(context.Background(), "x", action, "owner")
				if err != nil {
					if m.LevelOf("x") != before {
						return false
					}
					continue
				}
				if before == model.Blocked && action != model.Unblock && action != model.Block {
					return false
				}
				if action == model.Promote || action == model.Demote {
					d := rank[after] - rank[before]
					if d != 1 && d != -1 {
						return false
					}
				}
				if m.LevelOf("x") != after {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 60)),
	))

	properties.TestingRun(t)
}
