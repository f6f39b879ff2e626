package casing_test

import (
	"testing"

	"github.com/emilniklas/sequent/casing"
)

func TestApply(t *testing.T) {
	cases := []struct {
		name   string
		policy casing.Policy
		want   string
	}{
		{"user profile", casing.CamelCase, "userProfile"},
		{"UserProfile", casing.SnakeCase, "user_profile"},
		{"user-profile", casing.ScreamingSnakeCase, "USER_PROFILE"},
		{"user_profile", casing.PascalCase, "UserProfile"},
		{"userProfile", casing.TitleCase, "User Profile"},
		{"USER_PROFILE", casing.SentenceCase, "User profile"},
		{"UserProfile", casing.KebabCase, "user-profile"},
		{"HTTPServer", casing.SnakeCase, "http_server"},
		{"myVar2Name", casing.SnakeCase, "my_var2_name"},
	}
	for _, c := range cases {
		if got := casing.Apply(c.policy, c.name); got != c.want {
			t.Errorf("Apply(%v, %q) = %q, want %q", c.policy, c.name, got, c.want)
		}
	}
}
