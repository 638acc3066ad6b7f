package shader

import "testing"

func TestCString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"uScale", "uScale\x00"},
		{"uScale\x00", "uScale\x00"},
		{"", "\x00"},
	}
	for _, tt := range tests {
		if got := cString(tt.in); got != tt.want {
			t.Errorf("cString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTrimLog(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0:3(1): error: syntax error\n\x00", "0:3(1): error: syntax error"},
		{"warning\r\n\r\n\x00\x00", "warning"},
		{"\x00", "(no log)"},
	}
	for _, tt := range tests {
		if got := trimLog([]byte(tt.in)); got != tt.want {
			t.Errorf("trimLog(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUniformUnknownName(t *testing.T) {
	p := &Program{uniforms: map[string]int32{"uScale": 2, "uLayer": -1}}
	if got := p.Uniform("uScale"); got != 2 {
		t.Errorf("Uniform(uScale) = %d, want 2", got)
	}
	if got := p.Uniform("uLayer"); got != -1 {
		t.Errorf("Uniform(uLayer) = %d, want -1", got)
	}
	if got := p.Uniform("uMissing"); got != -1 {
		t.Errorf("Uniform(uMissing) = %d, want -1", got)
	}
	var nilProgram *Program
	nilProgram.Delete()
}
