package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	raw := `[{"urls":"stun:stun.l.google.com:19302"},{"urls":["turn:turn.example:3478"],"username":"u","credential":"c"}]`
	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("urls[0] = %q", servers[0].URLs[0])
	}
	if servers[1].Username != "u" {
		t.Errorf("username = %q", servers[1].Username)
	}
	if cred, _ := servers[1].Credential.(string); cred != "c" {
		t.Errorf("credential = %v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_Invalid(t *testing.T) {
	tests := []string{
		`not json`,
		`[{"urls":[]}]`,
		`[{"urls":"http://example.com"}]`,
		`[{"urls":"turn:turn.example:3478"}]`, // turn without credentials
	}
	for _, raw := range tests {
		if _, err := ParseICEServersJSON(raw); err == nil {
			t.Errorf("ParseICEServersJSON(%q): expected error", raw)
		}
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:a.example:3478, stun:b.example:3478",
		"turn:t.example:3478",
		"user", "pass",
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Errorf("stun urls = %v", servers[0].URLs)
	}
	if servers[1].Username != "user" {
		t.Errorf("turn username = %q", servers[1].Username)
	}
}

func TestParseICEServersFromConvenienceEnv_TurnRequiresCreds(t *testing.T) {
	if _, err := ParseICEServersFromConvenienceEnv("", "turn:t.example:3478", "", ""); err == nil {
		t.Fatalf("expected error for turn urls without credentials")
	}
}
