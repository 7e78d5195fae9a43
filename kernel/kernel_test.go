package kernel

import (
	"testing"

	"defs"
	"fd"
)

func TestThreadLifecycle(t *testing.T) {
	k := New(16, 16)
	p := k.NewProc(defs.RootUid)
	th, err := k.NewThread(p.Pid, 0)
	if err != 0 {
		t.Fatalf("NewThread: %v", err)
	}
	if _, ok := k.Threads[th.Id]; !ok {
		t.Fatal("thread not registered in kernel table")
	}
	if _, ok := k.Notes.Notes[th.Id]; !ok {
		t.Fatal("thread note not registered")
	}

	got, ok := k.Sched.Next()
	if !ok || got != th.Id {
		t.Fatalf("Sched.Next() = %v, %v, want %v, true", got, ok, th.Id)
	}

	k.ExitThread(th.Id, 0)
	th.WaitUntilDead()
}

func TestDispatchPanicsWithNoRunnableThread(t *testing.T) {
	k := New(4, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("Dispatch should panic when nothing is runnable")
		}
	}()
	k.Dispatch()
}

func TestProcFileTableBounded(t *testing.T) {
	k := New(4, 4)
	p := k.NewProc(defs.RootUid)
	n := len(p.Files)
	for i := 0; i < n; i++ {
		if _, err := p.AddFile(&fd.Fd_t{}); err != 0 {
			t.Fatalf("AddFile #%d: %v", i, err)
		}
	}
	if _, err := p.AddFile(&fd.Fd_t{}); err != defs.EMFILE {
		t.Fatalf("AddFile past capacity = %v, want EMFILE", err)
	}
}

func TestDiagnosticsDump(t *testing.T) {
	k := New(4, 4)
	p := k.NewProc(defs.RootUid)
	k.NewThread(p.Pid, 0)
	if s := k.PrintSysInfo(0); s == "" {
		t.Fatal("PrintSysInfo returned empty output")
	}
}
