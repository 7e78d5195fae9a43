package stat

/// File-type bits stored in Stat_t.Mode(), grounded on GOSFS_INODE_USED /
/// GOSFS_INODE_ISDIRECTORY / GOSFS_INODE_SETUID in gosfs.h.
const (
	IFREG  uint = 0x0
	IFDIR  uint = 0x2
	ISUID  uint = 0x4
	IPERM  uint = 0x1ff // low 9 bits hold rwx-style permission bits
)

/// IsDir reports whether mode describes a directory.
func IsDir(mode uint) bool {
	return mode&IFDIR != 0
}

/// IsSetuid reports whether mode carries the setuid bit.
func IsSetuid(mode uint) bool {
	return mode&ISUID != 0
}
