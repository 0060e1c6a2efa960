// Command noface-orchestrator drives the autonomous agent orchestrator
// against a single git project: a Main Loop pulls ready issues from an
// external tracker and dispatches them to a bounded pool of implement/
// review agent workers, enforcing per-issue manifest compliance before
// merging their work back to the trunk branch.
package main

func main() {
	Execute()
}
