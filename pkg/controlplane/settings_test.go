package controlplane

import "testing"

func TestValidHost(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"127.0.0.1", true},
		{"0.0.0.0", true},
		{"256.0.0.1", false},
		{"1.2.3", false},
		{"localhost", true},
		{"api.example.com", true},
		{"-bad-", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := validHost(tc.host); got != tc.want {
			t.Errorf("validHost(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}

func TestValidateSettingUnknownKeysAccepted(t *testing.T) {
	if err := validateSetting("persistence.storeStreamChunks", "true"); err != nil {
		t.Errorf("unknown key rejected: %v", err)
	}
}
