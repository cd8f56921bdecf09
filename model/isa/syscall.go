package isa

// Syscall numbers, passed in v0. Arguments go in a0..a3 and the result is
// returned in v0.
const (
	SysHalt   = 0
	SysExit   = 1
	SysExec   = 2
	SysJoin   = 3
	SysCreat  = 4
	SysOpen   = 5
	SysRead   = 6
	SysWrite  = 7
	SysClose  = 8
	SysUnlink = 9
	SysYield  = 10
	SysFork   = 13
	SysSpawn  = 14
	SysMalloc = 15
	SysFree   = 16
)

// SyscallNames maps assembler constants to syscall numbers.
var SyscallNames = map[string]int32{
	"SYS_HALT":   SysHalt,
	"SYS_EXIT":   SysExit,
	"SYS_EXEC":   SysExec,
	"SYS_JOIN":   SysJoin,
	"SYS_CREAT":  SysCreat,
	"SYS_OPEN":   SysOpen,
	"SYS_READ":   SysRead,
	"SYS_WRITE":  SysWrite,
	"SYS_CLOSE":  SysClose,
	"SYS_UNLINK": SysUnlink,
	"SYS_YIELD":  SysYield,
	"SYS_FORK":   SysFork,
	"SYS_SPAWN":  SysSpawn,
	"SYS_MALLOC": SysMalloc,
	"SYS_FREE":   SysFree,
}

// Negative syscall results.
const (
	EFAIL   int32 = -1
	ENOMEM  int32 = -2
	ENOEXEC int32 = -3
	EFAULT  int32 = -4
	ECHILD  int32 = -5
	ESRCH   int32 = -6
	EINVAL  int32 = -7
	EBADF   int32 = -8
	EMFILE  int32 = -9
	ENOENT  int32 = -10
	EPERM   int32 = -11
)

// ErrnoNames maps assembler constants to error results.
var ErrnoNames = map[string]int32{
	"EFAIL":   EFAIL,
	"ENOMEM":  ENOMEM,
	"ENOEXEC": ENOEXEC,
	"EFAULT":  EFAULT,
	"ECHILD":  ECHILD,
	"ESRCH":   ESRCH,
	"EINVAL":  EINVAL,
	"EBADF":   EBADF,
	"EMFILE":  EMFILE,
	"ENOENT":  ENOENT,
	"EPERM":   EPERM,
}
