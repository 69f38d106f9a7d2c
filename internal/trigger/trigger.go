// Package trigger decides whether a repository event schedules a
// verification run.
package trigger

import (
	"fmt"
	"strings"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/workflow"
)

// Decision is the outcome of evaluating one event. A rejected event is a
// no-op: nothing is scheduled and nothing is recorded beyond the decision.
type Decision struct {
	Accept bool
	Reason string
}

// Evaluate applies the declared trigger policy to one event. The zero
// TriggerSpec keeps the default: pull_request events verify on any
// branch, push events only on main. Everything else is ignored.
func Evaluate(event domain.TriggerEvent, triggers workflow.TriggerSpec) Decision {
	switch domain.NormalizeEventKind(string(event.Kind)) {
	case domain.EventKindPullRequest:
		if !triggers.PullRequestEnabled() {
			return Decision{Reason: "pull_request events do not trigger this workflow"}
		}
		return Decision{Accept: true, Reason: "pull_request verifies on any branch"}
	case domain.EventKindPush:
		branches := triggers.PushBranches()
		if len(branches) == 0 {
			return Decision{Reason: "push events do not trigger this workflow"}
		}
		for _, branch := range branches {
			if event.Branch == branch {
				return Decision{Accept: true, Reason: fmt.Sprintf("push to %s", branch)}
			}
		}
		return Decision{Reason: fmt.Sprintf("push to %q ignored, only %s triggers", event.Branch, strings.Join(branches, ", "))}
	default:
		return Decision{Reason: fmt.Sprintf("event kind %q ignored", event.Kind)}
	}
}
