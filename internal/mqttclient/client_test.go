package mqttclient

import "testing"

func TestJoinTopic(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		parts  []string
		want   string
	}{
		{"prefixed", "caption-engine", []string{"runs", "abc123"}, "caption-engine/runs/abc123"},
		{"no_prefix", "", []string{"runs", "abc123"}, "runs/abc123"},
		{"trims_slashes", "caption-engine", []string{"/runs/", "abc123"}, "caption-engine/runs/abc123"},
		{"skips_empty", "p", []string{"", "runs"}, "p/runs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinTopic(tt.prefix, tt.parts...); got != tt.want {
				t.Errorf("joinTopic(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
			}
		})
	}
}
