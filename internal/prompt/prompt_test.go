package prompt

import "testing"

func TestBuildIsPure(t *testing.T) {
	a := Build(RoleImplementer, "X-1", "proj", nil)
	b := Build(RoleImplementer, "X-1", "proj", nil)
	if a != b {
		t.Errorf("Build is not pure: %q != %q", a, b)
	}
}

func TestBuildIncorporatesFeedback(t *testing.T) {
	withFeedback := Build(RoleImplementer, "X-1", "proj", map[string]string{"feedback": "rename var"})
	withoutFeedback := Build(RoleImplementer, "X-1", "proj", nil)
	if withFeedback == withoutFeedback {
		t.Error("expected feedback to change the prompt")
	}
}
