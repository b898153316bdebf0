package klog

import (
	"bytes"
	"testing"
)

func TestLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Infof("boot %d", 42)
	l.Warnf("frame %#x odd", 0x1000)

	want := "boot 42\nwarn: frame 0x1000 odd\n"
	if got := buf.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestNilSafe(t *testing.T) {
	var l *Logger
	l.Infof("dropped")
	New(nil).Infof("dropped")
}
