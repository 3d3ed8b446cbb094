package logger

import "testing"

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"username", "ivanov",
		"password", "hunter2",
		"platform_cookie", "abc",
		"csrf_token", "xyz",
		"dangling",
	})
	want := []interface{}{
		"username", "ivanov",
		"password", "[REDACTED]",
		"platform_cookie", "[REDACTED]",
		"csrf_token", "[REDACTED]",
		"dangling",
	}
	if len(out) != len(want) {
		t.Fatalf("len: got %d want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("kv[%d]: got %v want %v", i, out[i], want[i])
		}
	}
}
