package classifier

import "testing"

func TestParseStackFrame_FileLineFunction(t *testing.T) {
	file, line, fn, ok := parseStackFrame("tests/login_test.py:42: in test_login")
	if !ok || file != "tests/login_test.py" || line != 42 || fn != "test_login" {
		t.Fatalf("unexpected parse: file=%q line=%d fn=%q ok=%v", file, line, fn, ok)
	}
}

func TestParseStackFrame_NoFunction(t *testing.T) {
	file, line, _, ok := parseStackFrame("main.go:17")
	if !ok || file != "main.go" || line != 17 {
		t.Fatalf("unexpected parse: file=%q line=%d ok=%v", file, line, ok)
	}
}

func TestParseStackFrame_NoMatch(t *testing.T) {
	_, _, _, ok := parseStackFrame("no file reference here")
	if ok {
		t.Fatal("expected no match")
	}
}
