// Package prompt implements the §6 prompt builder collaborator: a pure
// function from (role, issue id, project name, extras) to the argv string
// handed to a child agent. The core treats the result as opaque and never
// inspects it beyond piping it to the child process.
package prompt

import "fmt"

// Role is one of the agent invocation roles the core knows how to build a
// prompt for.
type Role string

const (
	RoleImplementer Role = "implementer"
	RoleReviewer    Role = "reviewer"
	RoleMerge       Role = "merge"
	RolePlanner     Role = "planner"
	RoleQuality     Role = "quality"
	RoleBreakdown   Role = "breakdown"
)

// Build is a pure function: same inputs always produce the same string.
func Build(role Role, issueID, projectName string, extras map[string]string) string {
	switch role {
	case RoleImplementer:
		feedback := extras["feedback"]
		if feedback == "" {
			return fmt.Sprintf("You are implementing issue %s in project %s. When your change is ready for review, print a line containing READY_FOR_REVIEW. If you cannot proceed, print a line starting with BLOCKED: followed by the reason.", issueID, projectName)
		}
		return fmt.Sprintf("You are implementing issue %s in project %s. The previous review requested changes: %s. Address the feedback, then print READY_FOR_REVIEW, or BLOCKED:<reason> if you cannot proceed.", issueID, projectName, feedback)
	case RoleReviewer:
		return fmt.Sprintf("You are reviewing the changes for issue %s in project %s. Print a line containing APPROVED if the change is acceptable, or CHANGES_REQUESTED:<feedback> otherwise.", issueID, projectName)
	case RoleMerge:
		return fmt.Sprintf("Resolve the merge conflict produced by issue %s in project %s.", issueID, projectName)
	case RolePlanner:
		return fmt.Sprintf("Plan the next batch of ready work for project %s.", projectName)
	case RoleQuality:
		return fmt.Sprintf("Run a quality pass over project %s.", projectName)
	case RoleBreakdown:
		return fmt.Sprintf("Break issue %s in project %s down into smaller issues.", issueID, projectName)
	default:
		return fmt.Sprintf("Unknown role %q for issue %s in project %s.", role, issueID, projectName)
	}
}
