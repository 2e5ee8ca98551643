package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	before := GetGoroutineCount()
	done := make(chan struct{})

	SafeGo(arbor.NewLogger(), "panics", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
	assert.Equal(t, before+1, GetGoroutineCount())
}

func TestSafeGoWithRecovery_ReportsPanic(t *testing.T) {
	recovered := make(chan interface{}, 1)

	SafeGoWithRecovery(arbor.NewLogger(), "panics", func() {
		panic("boom")
	}, func(r interface{}) {
		recovered <- r
	})

	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic hook did not run")
	}
}

func TestSafeGoWithRecovery_NoHookWithoutPanic(t *testing.T) {
	done := make(chan struct{})
	called := make(chan struct{}, 1)

	SafeGoWithRecovery(arbor.NewLogger(), "quiet", func() {
		close(done)
	}, func(interface{}) {
		called <- struct{}{}
	})

	<-done
	select {
	case <-called:
		t.Fatal("hook ran without a panic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWriteCrashFile(t *testing.T) {
	InstallCrashHandler(t.TempDir())
	defer func() { CrashLogDir = "./logs" }()

	path := WriteCrashFile("boom", "stack here")
	assert.FileExists(t, path)
}
