package probe

import "testing"

func TestIsBrowser(t *testing.T) {
	cases := []struct {
		process string
		want    bool
	}{
		{"chrome.exe", true},
		{"Chrome.exe", true},
		{"GoogleChromePortable.exe", true},
		{"firefox.exe", false},
		{"msedge.exe", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsBrowser(tc.process); got != tc.want {
			t.Errorf("IsBrowser(%q) = %v, want %v", tc.process, got, tc.want)
		}
	}
}

func TestParseProfileDirectory(t *testing.T) {
	cases := []struct {
		name    string
		cmdline string
		want    string
	}{
		{"bare value", `chrome.exe --profile-directory=Default --flag`, "Default"},
		{"bare value at end", `chrome.exe --profile-directory=Profile 2`, "Profile"},
		{"quoted value with space", `chrome.exe --profile-directory="Profile 2" --flag`, "Profile 2"},
		{"missing flag", `chrome.exe --no-first-run`, ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseProfileDirectory(tc.cmdline); got != tc.want {
				t.Errorf("parseProfileDirectory(%q) = %q, want %q", tc.cmdline, got, tc.want)
			}
		})
	}
}
