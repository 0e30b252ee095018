package protocol

import "testing"

func TestDecodeLogFrame_KnownTypes(t *testing.T) {
	f, ok := DecodeLogFrame(`{"type":"init","log_file":"/tmp/t.log"}`)
	if !ok || f.Type != FrameInit || f.LogFile != "/tmp/t.log" {
		t.Fatalf("unexpected init frame: %#v ok=%v", f, ok)
	}
	f, ok = DecodeLogFrame(`{"type":"END","status":"failed","message":"done"}`)
	if !ok || f.Type != FrameEnd || f.Status != "failed" || f.Message != "done" {
		t.Fatalf("unexpected end frame: %#v ok=%v", f, ok)
	}
}

func TestDecodeLogFrame_RejectsUnknownShapes(t *testing.T) {
	for _, text := range []string{
		``,
		`not json`,
		`[1,2]`,
		`{"type":"status_update"}`,
		`{"content":"x"}`,
		`{"type":5}`,
	} {
		if f, ok := DecodeLogFrame(text); ok {
			t.Fatalf("expected %q to be rejected, got %#v", text, f)
		}
	}
}
