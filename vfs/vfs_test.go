package vfs

import (
	"testing"

	"defs"
	"fdops"
	"stat"
	"ustr"
)

// fakeFile is a minimal fdops.Fdops_i used only to prove Open/OpenDirectory
// dispatch reached the mount point.
type fakeFile struct{ name string }

func (f *fakeFile) Close() defs.Err_t                                { return 0 }
func (f *fakeFile) Reopen() defs.Err_t                                { return 0 }
func (f *fakeFile) Read(dst fdops.Userio_i) (int, defs.Err_t)         { return 0, 0 }
func (f *fakeFile) Write(src fdops.Userio_i) (int, defs.Err_t)        { return 0, 0 }
func (f *fakeFile) Fstat(st fdops.Statable) defs.Err_t                { return 0 }
func (f *fakeFile) Lseek(off, whence int) (int, defs.Err_t)           { return off, 0 }
func (f *fakeFile) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) { return 0, 0 }

// fakeMount is an in-memory vfs.MountPoint_i backed by a name->ACL map, just
// large enough to exercise Table's path-resolution and ACL-enforcement
// logic without pulling in gosfs.
type fakeMount struct {
	files map[string][]ACLEntry
	setuid map[string]bool
}

func newFakeMount() *fakeMount {
	return &fakeMount{files: make(map[string][]ACLEntry), setuid: make(map[string]bool)}
}

func (m *fakeMount) Open(path ustr.Ustr, mode Perm) (fdops.Fdops_i, defs.Err_t) {
	name := path.String()
	if _, ok := m.files[name]; !ok {
		m.files[name] = []ACLEntry{{Uid: defs.RootUid, Perm: PermRead | PermWrite}}
	}
	return &fakeFile{name: name}, 0
}

func (m *fakeMount) OpenDirectory(path ustr.Ustr) (fdops.Fdops_i, defs.Err_t) {
	return &fakeFile{name: path.String()}, 0
}

func (m *fakeMount) CreateDirectory(path ustr.Ustr) defs.Err_t {
	m.files[path.String()] = []ACLEntry{{Uid: defs.RootUid, Perm: PermRead | PermWrite}}
	return 0
}

func (m *fakeMount) Stat(path ustr.Ustr, st *stat.Stat_t) defs.Err_t {
	if _, ok := m.files[path.String()]; !ok {
		return defs.ENOTFOUND
	}
	if m.setuid[path.String()] {
		st.Wmode(stat.ISUID)
	}
	return 0
}

func (m *fakeMount) Delete(path ustr.Ustr) defs.Err_t {
	name := path.String()
	if _, ok := m.files[name]; !ok {
		return defs.ENOTFOUND
	}
	delete(m.files, name)
	return 0
}

func (m *fakeMount) Sync() defs.Err_t { return 0 }

func (m *fakeMount) ACL(path ustr.Ustr) ([]ACLEntry, defs.Err_t) {
	acl, ok := m.files[path.String()]
	if !ok {
		return nil, defs.ENOTFOUND
	}
	return acl, 0
}

func (m *fakeMount) SetACL(path ustr.Ustr, uid defs.Uid_t, perm Perm) defs.Err_t {
	name := path.String()
	acl, ok := m.files[name]
	if !ok {
		return defs.ENOTFOUND
	}
	for i := range acl {
		if acl[i].Uid == uid {
			acl[i].Perm = perm
			m.files[name] = acl
			return 0
		}
	}
	m.files[name] = append(acl, ACLEntry{Uid: uid, Perm: perm})
	return 0
}

func (m *fakeMount) SetSetuid(path ustr.Ustr, flag bool) defs.Err_t {
	name := path.String()
	if _, ok := m.files[name]; !ok {
		return defs.ENOTFOUND
	}
	m.setuid[name] = flag
	return 0
}

func mkpath(s string) ustr.Ustr { return ustr.MkUstrSlice([]byte(s)) }

func TestOpenCreatesMissingFileOnWrite(t *testing.T) {
	tbl := NewTable()
	tbl.Mount('f', newFakeMount())

	if _, err := tbl.Open(mkpath("/f/new"), PermWrite, defs.RootUid); err != 0 {
		t.Fatalf("open for create: %v", err)
	}
}

func TestOpenMissingFileReadOnlyFails(t *testing.T) {
	tbl := NewTable()
	tbl.Mount('f', newFakeMount())

	if _, err := tbl.Open(mkpath("/f/missing"), PermRead, defs.RootUid); err != defs.ENOTFOUND {
		t.Fatalf("open missing read-only = %v, want ENOTFOUND", err)
	}
}

func TestCheckACLOwnerAndOthers(t *testing.T) {
	acl := []ACLEntry{{Uid: 0, Perm: PermRead | PermWrite}, {Uid: 5, Perm: PermRead}}
	if err := CheckACL(acl, 0, PermWrite); err != 0 {
		t.Fatalf("owner write: %v", err)
	}
	if err := CheckACL(acl, 5, PermWrite); err != defs.EACCESS {
		t.Fatalf("non-owner write = %v, want EACCESS", err)
	}
	if err := CheckACL(acl, 9, PermRead); err != defs.EACCESS {
		t.Fatalf("unlisted uid = %v, want EACCESS", err)
	}
}

func TestSetACLRequiresOwnership(t *testing.T) {
	tbl := NewTable()
	mp := newFakeMount()
	tbl.Mount('f', mp)
	tbl.Open(mkpath("/f/doc"), PermWrite, defs.RootUid)

	if err := tbl.SetACL(mkpath("/f/doc"), 5, 7, PermRead); err != defs.EACCESS {
		t.Fatalf("non-owner SetACL = %v, want EACCESS", err)
	}
	if err := tbl.SetACL(mkpath("/f/doc"), defs.RootUid, 7, PermRead); err != 0 {
		t.Fatalf("owner SetACL: %v", err)
	}
	acl, _ := mp.ACL(mkpath("/doc"))
	found := false
	for _, e := range acl {
		if e.Uid == 7 && e.Perm == PermRead {
			found = true
		}
	}
	if !found {
		t.Fatal("new ACL entry not installed")
	}
}

func TestOpenExecAppliesSetuid(t *testing.T) {
	tbl := NewTable()
	mp := newFakeMount()
	tbl.Mount('f', mp)
	tbl.Open(mkpath("/f/prog"), PermWrite, defs.RootUid)
	tbl.SetACL(mkpath("/f/prog"), defs.RootUid, 42, PermRead)
	tbl.SetSetuid(mkpath("/f/prog"), defs.RootUid, true)

	// uid 42 may read the root-owned setuid binary, so OpenExec reports
	// the owner's uid as the effective uid to run it under.
	_, euid, err := tbl.OpenExec(mkpath("/f/prog"), 42)
	if err != 0 {
		t.Fatalf("OpenExec: %v", err)
	}
	if euid != defs.RootUid {
		t.Fatalf("euid = %d, want owner uid %d", euid, defs.RootUid)
	}
}

func TestUnmount(t *testing.T) {
	tbl := NewTable()
	tbl.Mount('f', newFakeMount())
	tbl.Unmount('f')
	if _, err := tbl.Open(mkpath("/f/x"), PermWrite, defs.RootUid); err != defs.ENOFILESYS {
		t.Fatalf("open after unmount = %v, want ENOFILESYS", err)
	}
}
