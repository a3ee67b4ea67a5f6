package auth

import "testing"

func TestContains(t *testing.T) {
	cases := []struct {
		name string
		have []string
		want string
		exp  bool
	}{
		{name: "exact match", have: []string{RoleDriver}, want: RoleDriver, exp: true},
		{name: "case insensitive", have: []string{"Laundromat_Staff"}, want: RoleLaundromatStaff, exp: true},
		{name: "missing role", have: []string{RoleCustomer}, want: RoleDriver, exp: false},
		{name: "admin implies all", have: []string{RoleAdmin}, want: RoleDriver, exp: true},
		{name: "admin implies customer", have: []string{RoleAdmin}, want: RoleCustomer, exp: true},
		{name: "empty want", have: []string{RoleAdmin}, want: "", exp: false},
		{name: "empty have", have: nil, want: RoleCustomer, exp: false},
		{name: "whitespace trimmed", have: []string{"  driver  "}, want: "driver", exp: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Contains(tc.have, tc.want); got != tc.exp {
				t.Fatalf("Contains(%v, %q) = %v, want %v", tc.have, tc.want, got, tc.exp)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	if !ContainsAny([]string{RoleDriver}, RoleLaundromatStaff, RoleDriver) {
		t.Fatal("expected driver to match one of the wanted roles")
	}
	if ContainsAny([]string{RoleCustomer}, RoleDriver, RoleLaundromatStaff) {
		t.Fatal("expected customer to match none of the wanted roles")
	}
	if !ContainsAny([]string{RoleAdmin}, RoleDriver) {
		t.Fatal("expected admin to satisfy any role gate")
	}
	if ContainsAny([]string{RoleDriver}) {
		t.Fatal("expected empty want list to never match")
	}
}
