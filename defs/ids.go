package defs

/// Tid_t identifies a kernel thread.
type Tid_t int

/// Pid_t identifies a process (a group of threads sharing an address space
/// and file table).
type Pid_t int

/// Uid_t identifies a user for ACL and setuid checks.
type Uid_t int

/// TidNone is never assigned to a real thread.
const TidNone Tid_t = -1

/// PidNone is never assigned to a real process.
const PidNone Pid_t = -1

/// RootUid owns newly formatted filesystems.
const RootUid Uid_t = 0
