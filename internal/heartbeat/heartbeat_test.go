package heartbeat

import "testing"

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"blank", "", true},
		{"only whitespace", "   \n\t\n  ", true},
		{"only heading", "# Heartbeat\n\n## Notes\n", true},
		{"only html comment", "<!-- nothing to do yet -->\n", true},
		{"only unchecked checkbox", "- [ ] placeholder\n", true},
		{"only checked checkbox", "- [x] done\n- [X] also done\n", true},
		{"mixed but still empty", "# Heartbeat\n\n<!-- template -->\n- [ ] todo\n", true},
		{"has a substantive line", "# Heartbeat\n\nFix the login bug before Friday.\n", false},
		{"plain bullet is substantive", "- remember to call back\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEmpty(tt.content); got != tt.want {
				t.Errorf("IsEmpty(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}
