package namegen

import (
	"regexp"
	"testing"
)

func TestGenerateShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{4}$`)
	for i := 0; i < 100; i++ {
		name := Generate()
		if !pattern.MatchString(name) {
			t.Fatalf("unexpected name %q", name)
		}
	}
}
