package phonenumber

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare 10 digit", "4155551212", "+14155551212", false},
		{"11 digit with country code", "14155551212", "+14155551212", false},
		{"already E164", "+14155551212", "+14155551212", false},
		{"punctuated", "(415) 555-1212", "+14155551212", false},
		{"dashed with country code", "1-415-555-1212", "+14155551212", false},
		{"too short", "55512", "", true},
		{"too long", "1234567890123", "", true},
		{"bad country code", "24155551212", "", true},
		{"invalid area code leading 1", "11555551212", "", true},
		{"invalid area code leading 0", "10555551212", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) expected error, got %q", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"4155551212", "(415) 555-1212", "14155551212"}
	for _, in := range inputs {
		first, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q) unexpected error: %v", in, err)
		}
		second, err := Normalize(first)
		if err != nil {
			t.Fatalf("Normalize(%q) (second pass) unexpected error: %v", first, err)
		}
		if first != second {
			t.Errorf("Normalize is not idempotent: %q != %q", first, second)
		}
	}
}

func TestIsE164(t *testing.T) {
	if !IsE164("+14155551212") {
		t.Error("expected +14155551212 to be recognized as E.164")
	}
	if IsE164("4155551212") {
		t.Error("expected bare national number to not be recognized as E.164")
	}
	if IsE164("+1415555121") {
		t.Error("expected short number to not be recognized as E.164")
	}
}
