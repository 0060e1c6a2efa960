// Package compliance implements C4, the Compliance Engine: given a
// pre-run file baseline, the current VCS change-set, and the manifests of
// every known issue, it classifies an issue's touched files as
// authorized, unauthorized, or forbidden, and derives instrumentation
// metrics for manifest-prediction accuracy.
package compliance

import "github.com/femtomc/noface/internal/types"

// Report is the outcome of a compliance check for one issue.
type Report struct {
	Compliant        bool
	Unauthorized     []string
	ForbiddenTouched []string
	Instrumentation  *types.Instrumentation
}

// Violations returns the union of Unauthorized and ForbiddenTouched, for
// callers that want to roll every violating file back.
func (r Report) Violations() []string {
	out := make([]string, 0, len(r.Unauthorized)+len(r.ForbiddenTouched))
	out = append(out, r.Unauthorized...)
	out = append(out, r.ForbiddenTouched...)
	return out
}

// Check runs the §4.4 algorithm for issue manifest against raw (the
// current full changed-file set from the VCS adapter), baseline (files
// already dirty before this issue's worker started), and otherManifests
// (every other known issue's manifest, in-flight or not — §4.4 step 2
// explicitly uses *all* known manifests, not only in-flight ones).
//
// When manifest is nil the result is compliant with no instrumentation,
// per §4.4 step 3.
func Check(manifest *types.Manifest, raw []string, baseline types.Baseline, otherManifests []*types.Manifest) Report {
	if manifest == nil {
		return Report{Compliant: true}
	}

	excluded := make(map[string]struct{})
	for _, other := range otherManifests {
		for _, bp := range other.BasePaths() {
			excluded[bp] = struct{}{}
		}
	}

	var candidate []string
	for _, f := range raw {
		if baseline.Contains(f) {
			continue
		}
		if _, ok := excluded[types.BasePath(f)]; ok {
			continue
		}
		candidate = append(candidate, f)
	}

	forbidden := toSet(manifest.ForbiddenFiles)
	primaryBase := make(map[string]struct{})
	for _, bp := range manifest.BasePaths() {
		primaryBase[bp] = struct{}{}
	}

	var report Report
	for _, f := range candidate {
		switch {
		case matchesAny(f, forbidden):
			report.ForbiddenTouched = append(report.ForbiddenTouched, f)
		case !matchesPrimary(f, manifest.PrimaryFiles, primaryBase):
			report.Unauthorized = append(report.Unauthorized, f)
		}
	}

	report.Compliant = len(report.Unauthorized) == 0 && len(report.ForbiddenTouched) == 0
	report.Instrumentation = &types.Instrumentation{
		Predicted: manifest.BasePaths(),
		Touched:   candidate,
	}
	return report
}

func toSet(files []string) map[string]struct{} {
	m := make(map[string]struct{}, len(files))
	for _, f := range files {
		m[f] = struct{}{}
	}
	return m
}

// matchesAny reports whether f equals one of the forbidden entries,
// either exactly or by base-path.
func matchesAny(f string, forbidden map[string]struct{}) bool {
	if _, ok := forbidden[f]; ok {
		return true
	}
	_, ok := forbidden[types.BasePath(f)]
	return ok
}

// matchesPrimary reports whether f is authorized by the manifest's
// primary files, by exact match or base-path prefix (§4.4 step 4).
func matchesPrimary(f string, primary []string, primaryBase map[string]struct{}) bool {
	for _, p := range primary {
		if f == p {
			return true
		}
	}
	_, ok := primaryBase[types.BasePath(f)]
	return ok
}
