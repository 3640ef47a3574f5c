package logger

import (
	"reflect"
	"testing"
)

type recordingInstance struct {
	entries []string
	last    []any
}

func (r *recordingInstance) record(level, msg string, kv []any) {
	r.entries = append(r.entries, level+":"+msg)
	r.last = kv
}

func (r *recordingInstance) Log(m string, kv ...any)   { r.record("log", m, kv) }
func (r *recordingInstance) Debug(m string, kv ...any) { r.record("debug", m, kv) }
func (r *recordingInstance) Info(m string, kv ...any)  { r.record("info", m, kv) }
func (r *recordingInstance) Warn(m string, kv ...any)  { r.record("warn", m, kv) }
func (r *recordingInstance) Error(m string, kv ...any) { r.record("error", m, kv) }
func (r *recordingInstance) Fatal(m string, kv ...any) { r.record("fatal", m, kv) }

func TestLogger_FansOut(t *testing.T) {
	a := &recordingInstance{}
	b := &recordingInstance{}
	Init(a, b)
	defer Init()

	Info("[Test] hello", "topic", "acme")
	Log("[Test] plain", "k", 1)

	want := []string{"info:[Test] hello", "log:[Test] plain"}
	if !reflect.DeepEqual(a.entries, want) || !reflect.DeepEqual(b.entries, want) {
		t.Fatalf("expected %v on both backends, got %v and %v", want, a.entries, b.entries)
	}
	if !reflect.DeepEqual(a.last, []any{"k", 1}) {
		t.Fatalf("expected keyvals to be forwarded, got %v", a.last)
	}
}

func TestLogger_NoInit(t *testing.T) {
	singleton = nil
	Warn("dropped")
}
