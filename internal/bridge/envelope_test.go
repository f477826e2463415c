package bridge

import "testing"

func TestDecodeEnvelope_Classification(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want EnvelopeKind
	}{
		{"identify by init id", `{"id":"init","browser":"Mozilla Firefox","browserName":"Firefox"}`, KindIdentifyReply},
		{"identify by action", `{"action":"identify","browser":"Google Chrome"}`, KindIdentifyReply},
		{"response", `{"id":"cmd_1","response":{"url":"https://x"}}`, KindResponse},
		{"response no payload", `{"id":"cmd_2"}`, KindResponse},
		{"error response", `{"id":"cmd_3","error":"tab not found"}`, KindErrorResponse},
		{"event by event field", `{"event":"tabUpdated","url":"https://x"}`, KindEvent},
		{"event by action field", `{"action":"log","payload":{"msg":"hi"}}`, KindEvent},
		{"empty object", `{}`, KindMalformed},
		{"not json", `pinch`, KindMalformed},
		{"json array", `[1,2,3]`, KindMalformed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, got := DecodeEnvelope([]byte(c.raw))
			if got != c.want {
				t.Errorf("kind = %s, want %s", got, c.want)
			}
		})
	}
}

func TestDecodeEnvelope_FieldsSurvive(t *testing.T) {
	env, kind := DecodeEnvelope([]byte(`{"id":"cmd_7","response":{"ok":true}}`))
	if kind != KindResponse {
		t.Fatalf("kind = %s", kind)
	}
	if env.ID != "cmd_7" {
		t.Errorf("id = %q", env.ID)
	}
	if string(env.Response) != `{"ok":true}` {
		t.Errorf("response = %s", env.Response)
	}
}
