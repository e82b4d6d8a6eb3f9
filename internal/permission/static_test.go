package permission

import (
	"testing"

	"github.com/google/uuid"
)

func TestStaticRules(t *testing.T) {
	actor := uuid.New()
	cases := []struct {
		name    string
		setup   func(*Static)
		ability string
		want    bool
	}{
		{name: "default allow", setup: func(*Static) {}, ability: "spark", want: true},
		{name: "explicit deny", setup: func(s *Static) { s.Deny(actor, "spark") }, ability: "spark", want: false},
		{name: "wildcard deny", setup: func(s *Static) { s.Deny(actor, Wildcard) }, ability: "lightwall", want: false},
		{name: "deny then grant", setup: func(s *Static) {
			s.Deny(actor, "spark")
			s.Grant(actor, "spark")
		}, ability: "spark", want: true},
		{name: "forget restores default", setup: func(s *Static) {
			s.Deny(actor, Wildcard)
			s.Forget(actor)
		}, ability: "spark", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := AllowAll()
			tc.setup(s)
			if got := s.HasPermission(actor, tc.ability); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDefaultDenyHonoursGrants(t *testing.T) {
	s := NewStatic(false)
	actor := uuid.New()
	if s.HasPermission(actor, "spark") {
		t.Fatalf("expected default deny")
	}
	s.Grant(actor, Wildcard)
	if !s.HasPermission(actor, "spark") {
		t.Fatalf("expected wildcard grant to allow")
	}
	if s.HasPermission(uuid.New(), "spark") {
		t.Fatalf("grants must not leak to other actors")
	}
}
