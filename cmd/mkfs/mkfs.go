// Command mkfs formats a GOSFS image and optionally populates it from a
// host directory tree, adapted from mkfs/mkfs.go's ufs.MkDisk/addfiles
// pair to target gosfs.Format/gosfs.Mount instead of biscuit's ufs.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bufcache"
	"defs"
	"gosfs"
	"mem"
	"ustr"
	"vfs"
)

const bsize = bufcache.BSIZE

// fileDisk implements bufcache.Disk_i over a real host file, the
// real-disk counterpart to the in-memory fakes gosfs's and bufcache's own
// tests use; Disk_i's doc comment names this file as exactly where that
// real implementation belongs.
type fileDisk struct {
	f *os.File
}

func (d *fileDisk) Start(req *bufcache.Bdev_req_t) bool {
	switch req.Cmd {
	case bufcache.BDEV_READ:
		b := req.Blks.FrontBlock()
		off := int64(b.Block) * int64(bsize)
		if _, err := d.f.ReadAt(b.Data[:], off); err != nil && err != io.EOF {
			panic(err)
		}
	case bufcache.BDEV_WRITE:
		req.Blks.Apply(func(b *bufcache.Bdev_block_t) {
			off := int64(b.Block) * int64(bsize)
			if _, err := d.f.WriteAt(b.Data[:], off); err != nil {
				panic(err)
			}
			b.Done("fileDisk")
		})
	case bufcache.BDEV_FLUSH:
		if err := d.f.Sync(); err != nil {
			panic(err)
		}
	}
	return false
}

func (d *fileDisk) Stats() string { return "" }

// membuf is a minimal fdops.Userio_i over a host-resident byte slice,
// standing in for vm.Fakeubuf_t without pulling vm into this command's
// dependency list; mkfs never stages a real user address space.
type membuf struct {
	buf []byte
	off int
}

func (m *membuf) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, m.buf[m.off:])
	m.off += n
	return n, 0
}

func (m *membuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(m.buf[m.off:], src)
	m.off += n
	return n, 0
}

func (m *membuf) Remain() int  { return len(m.buf) - m.off }
func (m *membuf) Totalsz() int { return len(m.buf) }

// copydata streams src's host file contents into dst (already created in
// fs), chunked at block size, matching mkfs.go's copydata/ufs.Append pair.
func copydata(src string, fs *gosfs.Instance, dst ustr.Ustr) {
	srcFile, err := os.Open(src)
	if err != nil {
		panic(err)
	}
	defer srcFile.Close()

	f, ferr := fs.Open(dst, vfs.PermWrite)
	if ferr != 0 {
		panic(ferr)
	}

	buf := make([]byte, bsize)
	for {
		n, readErr := srcFile.Read(buf)
		if readErr != nil && readErr != io.EOF {
			panic(readErr)
		}
		if n > 0 {
			mb := &membuf{buf: buf[:n]}
			if _, werr := f.Write(mb); werr != 0 {
				panic(werr)
			}
		}
		if readErr == io.EOF {
			break
		}
	}
}

// addfiles walks skeldir on the host and replicates its contents into fs,
// matching mkfs.go's addfiles.
func addfiles(fs *gosfs.Instance, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = "/" + strings.TrimPrefix(rel, "/")
		dst := ustr.MkUstrSlice([]byte(rel))

		if d.IsDir() {
			if e := fs.CreateDirectory(dst); e != 0 {
				fmt.Printf("failed to create dir %v: %v\n", rel, e)
			}
			return nil
		}

		if _, e := fs.Open(dst, vfs.PermWrite); e != 0 {
			fmt.Printf("failed to create file %v: %v\n", rel, e)
			return nil
		}
		copydata(path, fs, dst)
		return nil
	})
	if err != nil {
		fmt.Printf("error walking the path %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) < 3 {
		fmt.Printf("Usage: mkfs <output image> <total blocks> [skel dir]\n")
		os.Exit(1)
	}

	image := os.Args[1]
	var totalBlocks int
	if _, err := fmt.Sscanf(os.Args[2], "%d", &totalBlocks); err != nil || totalBlocks <= 0 {
		fmt.Printf("bad block count %q\n", os.Args[2])
		os.Exit(1)
	}

	f, err := os.OpenFile(image, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	if err := f.Truncate(int64(totalBlocks) * int64(bsize)); err != nil {
		panic(err)
	}

	disk := &fileDisk{f: f}
	blockmem := &bufcache.Memblocks{Phys: mem.NewPhysmem(totalBlocks + 16)}

	if e := gosfs.Format(disk, blockmem, totalBlocks); e != 0 {
		fmt.Printf("format failed: %v\n", e)
		os.Exit(1)
	}

	fs, e := gosfs.Mount(disk, blockmem, 64, 4)
	if e != 0 {
		fmt.Printf("mount failed: %v\n", e)
		os.Exit(1)
	}

	if _, e := fs.ACL(ustr.MkUstrRoot()); e != 0 {
		fmt.Printf("not a valid fs: no root inode\n")
		os.Exit(1)
	}

	if len(os.Args) >= 4 {
		addfiles(fs, os.Args[3])
	}

	if e := fs.Sync(); e != 0 {
		fmt.Printf("sync failed: %v\n", e)
		os.Exit(1)
	}
}
