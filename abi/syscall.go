//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package abi

// Syscall is a portable identifier for a logical kernel operation,
// independent of ABI.
type Syscall int

// ARMPrivate is a distinguished pseudo-canonical id for the ARM kernel-helper
// page (__ARM_NR_* syscalls in the open interval (0xF0000, 0xF0006)). It is
// not counted by SyscallCount or listed by All; ByID names it
// "ARM-private". Policy always treats it as implicitly allowed.
const ARMPrivate Syscall = -1

// Canonical syscall ids. Not an exhaustive syscall catalog: it covers the
// syscalls a typical compiled C/C++/Go/Python submission issues during
// process startup, I/O, and teardown. Extending it is a matter of adding
// one nativeEntry below.
const (
	Read Syscall = iota
	Write
	Open
	Openat
	Close
	Stat
	Fstat
	Lstat
	Lseek
	Mmap
	Mprotect
	Munmap
	Brk
	Ioctl
	Access
	Pipe
	Dup
	Dup2
	Pause
	Nanosleep
	Getpid
	Clone
	Fork
	Vfork
	Execve
	Exit
	Wait4
	Kill
	Uname
	RtSigaction
	RtSigprocmask
	RtSigreturn
	ArchPrctl
	SetTidAddress
	Futex
	ExitGroup
	Getrandom
	Prlimit64
	Readlink
	Fcntl
	Gettimeofday
	ClockGettime
	Mount
	Umount2
	Chown
	Fchown
	Personality
	Ptrace

	syscallCount
)

type nativeEntry struct {
	name    string
	natives [NumABI][]int
}

// translator maps canonical -> per-ABI native syscall numbers. A nil/empty
// slice means the canonical operation doesn't exist (or isn't modeled) on
// that ABI; NameOf/CanonicalOf resolve such gaps to "unknown" rather than
// panic.
//
// x32 numbers are derived from the x86_64 table by the __X32_SYSCALL_BIT
// offset (0x40000000); this is accurate for the syscalls below because none
// of them carry an x32-specific compat struct layout. FreeBSD numbers are
// the legacy (pre time64-ABI-shift) assignments, plus openat (499); the
// other *at() syscalls and signal delivery on FreeBSD use a different,
// newer numbering this table does not model; left empty rather than
// guessed.
const x32Bit = 0x40000000

var translator = [syscallCount]nativeEntry{
	Read:          {"read", [NumABI][]int{idxX86: {3}, idxX86_64: {0}, idxX32: {0 + x32Bit}, idxARM: {3}, idxFreeBSD: {3}, idxARM64: {63}}},
	Write:         {"write", [NumABI][]int{idxX86: {4}, idxX86_64: {1}, idxX32: {1 + x32Bit}, idxARM: {4}, idxFreeBSD: {4}, idxARM64: {64}}},
	Open:          {"open", [NumABI][]int{idxX86: {5}, idxX86_64: {2}, idxX32: {2 + x32Bit}, idxARM: {5}, idxFreeBSD: {5}}},
	Openat:        {"openat", [NumABI][]int{idxX86: {295}, idxX86_64: {257}, idxX32: {257 + x32Bit}, idxARM: {322}, idxFreeBSD: {499}, idxARM64: {56}}},
	Close:         {"close", [NumABI][]int{idxX86: {6}, idxX86_64: {3}, idxX32: {3 + x32Bit}, idxARM: {6}, idxFreeBSD: {6}, idxARM64: {57}}},
	Stat:          {"stat", [NumABI][]int{idxX86: {106}, idxX86_64: {4}, idxX32: {4 + x32Bit}, idxARM: {106}}},
	Fstat:         {"fstat", [NumABI][]int{idxX86: {108}, idxX86_64: {5}, idxX32: {5 + x32Bit}, idxARM: {108}, idxARM64: {80}}},
	Lstat:         {"lstat", [NumABI][]int{idxX86: {107}, idxX86_64: {6}, idxX32: {6 + x32Bit}, idxARM: {107}}},
	Lseek:         {"lseek", [NumABI][]int{idxX86: {19}, idxX86_64: {8}, idxX32: {8 + x32Bit}, idxARM: {19}, idxFreeBSD: {199}, idxARM64: {62}}},
	Mmap:          {"mmap", [NumABI][]int{idxX86: {90, 192}, idxX86_64: {9}, idxX32: {9 + x32Bit}, idxARM: {192}, idxFreeBSD: {197}, idxARM64: {222}}},
	Mprotect:      {"mprotect", [NumABI][]int{idxX86: {125}, idxX86_64: {10}, idxX32: {10 + x32Bit}, idxARM: {125}, idxFreeBSD: {74}, idxARM64: {226}}},
	Munmap:        {"munmap", [NumABI][]int{idxX86: {91}, idxX86_64: {11}, idxX32: {11 + x32Bit}, idxARM: {91}, idxFreeBSD: {73}, idxARM64: {215}}},
	Brk:           {"brk", [NumABI][]int{idxX86: {45}, idxX86_64: {12}, idxX32: {12 + x32Bit}, idxARM: {45}, idxFreeBSD: {45}, idxARM64: {214}}},
	Ioctl:         {"ioctl", [NumABI][]int{idxX86: {54}, idxX86_64: {16}, idxX32: {16 + x32Bit}, idxARM: {54}, idxFreeBSD: {54}, idxARM64: {29}}},
	Access:        {"access", [NumABI][]int{idxX86: {33}, idxX86_64: {21}, idxX32: {21 + x32Bit}, idxARM: {33}}},
	Pipe:          {"pipe", [NumABI][]int{idxX86: {42}, idxX86_64: {22}, idxX32: {22 + x32Bit}, idxARM: {42}}},
	Dup:           {"dup", [NumABI][]int{idxX86: {41}, idxX86_64: {32}, idxX32: {32 + x32Bit}, idxARM: {41}, idxARM64: {23}}},
	Dup2:          {"dup2", [NumABI][]int{idxX86: {63}, idxX86_64: {33}, idxX32: {33 + x32Bit}, idxARM: {63}}},
	Pause:         {"pause", [NumABI][]int{idxX86: {29}, idxX86_64: {34}, idxX32: {34 + x32Bit}, idxARM: {29}}},
	Nanosleep:     {"nanosleep", [NumABI][]int{idxX86: {162}, idxX86_64: {35}, idxX32: {35 + x32Bit}, idxARM: {162}, idxFreeBSD: {240}, idxARM64: {101}}},
	Getpid:        {"getpid", [NumABI][]int{idxX86: {20}, idxX86_64: {39}, idxX32: {39 + x32Bit}, idxARM: {20}, idxFreeBSD: {20}, idxARM64: {172}}},
	Clone:         {"clone", [NumABI][]int{idxX86: {120}, idxX86_64: {56}, idxX32: {56 + x32Bit}, idxARM: {120}, idxARM64: {220}}},
	Fork:          {"fork", [NumABI][]int{idxX86: {2}, idxX86_64: {57}, idxX32: {57 + x32Bit}, idxARM: {2}, idxFreeBSD: {2}}},
	Vfork:         {"vfork", [NumABI][]int{idxX86: {190}, idxX86_64: {58}, idxX32: {58 + x32Bit}, idxARM: {190}}},
	Execve:        {"execve", [NumABI][]int{idxX86: {11}, idxX86_64: {59}, idxX32: {59 + x32Bit}, idxARM: {11}, idxFreeBSD: {59}, idxARM64: {221}}},
	Exit:          {"exit", [NumABI][]int{idxX86: {1}, idxX86_64: {60}, idxX32: {60 + x32Bit}, idxARM: {1}, idxFreeBSD: {1}, idxARM64: {93}}},
	Wait4:         {"wait4", [NumABI][]int{idxX86: {114}, idxX86_64: {61}, idxX32: {61 + x32Bit}, idxARM: {114}, idxFreeBSD: {7}, idxARM64: {260}}},
	Kill:          {"kill", [NumABI][]int{idxX86: {37}, idxX86_64: {62}, idxX32: {62 + x32Bit}, idxARM: {37}, idxFreeBSD: {37}, idxARM64: {129}}},
	Uname:         {"uname", [NumABI][]int{idxX86: {122}, idxX86_64: {63}, idxX32: {63 + x32Bit}, idxARM: {122}, idxARM64: {160}}},
	RtSigaction:   {"rt_sigaction", [NumABI][]int{idxX86: {174}, idxX86_64: {13}, idxX32: {13 + x32Bit}, idxARM: {174}, idxARM64: {134}}},
	RtSigprocmask: {"rt_sigprocmask", [NumABI][]int{idxX86: {175}, idxX86_64: {14}, idxX32: {14 + x32Bit}, idxARM: {175}, idxARM64: {135}}},
	RtSigreturn:   {"rt_sigreturn", [NumABI][]int{idxX86: {173}, idxX86_64: {15}, idxARM: {173}, idxARM64: {139}}},
	ArchPrctl:     {"arch_prctl", [NumABI][]int{idxX86_64: {158}}},
	SetTidAddress: {"set_tid_address", [NumABI][]int{idxX86: {258}, idxX86_64: {218}, idxX32: {218 + x32Bit}, idxARM: {256}, idxARM64: {96}}},
	Futex:         {"futex", [NumABI][]int{idxX86: {240}, idxX86_64: {202}, idxX32: {202 + x32Bit}, idxARM: {240}, idxARM64: {98}}},
	ExitGroup:     {"exit_group", [NumABI][]int{idxX86: {252}, idxX86_64: {231}, idxX32: {231 + x32Bit}, idxARM: {248}, idxARM64: {94}}},
	Getrandom:     {"getrandom", [NumABI][]int{idxX86: {355}, idxX86_64: {318}, idxX32: {318 + x32Bit}, idxARM: {384}, idxARM64: {278}}},
	Prlimit64:     {"prlimit64", [NumABI][]int{idxX86: {340}, idxX86_64: {302}, idxX32: {302 + x32Bit}, idxARM: {369}, idxARM64: {261}}},
	Readlink:      {"readlink", [NumABI][]int{idxX86: {85}, idxX86_64: {89}, idxX32: {89 + x32Bit}, idxARM: {85}}},
	Fcntl:         {"fcntl", [NumABI][]int{idxX86: {55}, idxX86_64: {72}, idxX32: {72 + x32Bit}, idxARM: {55}, idxARM64: {25}}},
	Gettimeofday:  {"gettimeofday", [NumABI][]int{idxX86: {78}, idxX86_64: {96}, idxX32: {96 + x32Bit}, idxARM: {78}}},
	ClockGettime:  {"clock_gettime", [NumABI][]int{idxX86: {265}, idxX86_64: {228}, idxX32: {228 + x32Bit}, idxARM: {263}, idxARM64: {113}}},
	Mount:         {"mount", [NumABI][]int{idxX86: {21}, idxX86_64: {165}, idxX32: {165 + x32Bit}, idxARM: {21}, idxARM64: {40}}},
	Umount2:       {"umount2", [NumABI][]int{idxX86: {52}, idxX86_64: {166}, idxX32: {166 + x32Bit}, idxARM: {52}, idxARM64: {39}}},
	Chown:         {"chown", [NumABI][]int{idxX86: {182}, idxX86_64: {92}, idxX32: {92 + x32Bit}, idxARM: {182}}},
	Fchown:        {"fchown", [NumABI][]int{idxX86: {95}, idxX86_64: {93}, idxX32: {93 + x32Bit}, idxARM: {95}, idxARM64: {55}}},
	Personality:   {"personality", [NumABI][]int{idxX86: {136}, idxX86_64: {135}, idxX32: {135 + x32Bit}, idxARM: {136}, idxARM64: {92}}},
	Ptrace:        {"ptrace", [NumABI][]int{idxX86: {26}, idxX86_64: {101}, idxX32: {101 + x32Bit}, idxARM: {26}, idxARM64: {117}}},
}

// ByID returns the human-readable name for a canonical syscall id.
func ByID(id Syscall) string {
	if id == ARMPrivate {
		return "ARM-private"
	}
	if id < 0 || int(id) >= int(syscallCount) {
		return "unknown"
	}
	return translator[id].name
}

// SyscallCount is the number of canonical syscalls this table knows about.
func SyscallCount() int { return int(syscallCount) }

// All returns every canonical syscall id, for callers (e.g. policy table
// construction) that need to expand a sparse {canonical: handler} map
// across the whole table.
func All() []Syscall {
	ids := make([]Syscall, syscallCount)
	for i := range ids {
		ids[i] = Syscall(i)
	}
	return ids
}
