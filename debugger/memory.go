//
// Copyright 2022 Nestybox, Inc.
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

package debugger

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// MaxLengthExceededError is returned by ReadString when no NUL terminator
// appears within maxSize bytes of address.
type MaxLengthExceededError struct {
	Address uint64
	MaxSize int
}

func (e *MaxLengthExceededError) Error() string {
	return fmt.Sprintf("debugger: no NUL terminator within %d bytes at 0x%x", e.MaxSize, e.Address)
}

// ReadString reads a NUL-terminated byte string from the tracee's address
// space via /proc/<pid>/mem: a single bulk read, one byte past maxSize,
// so a true truncation can be told apart from a string that ends exactly
// at the boundary.
//
// Returns (nil, nil) when address is the null pointer or the read itself
// fails (unmapped or protected page): an unreadable tracee argument is
// not this façade's error to raise, the caller decides whether that's a
// protection fault. Returns (nil, *MaxLengthExceededError) when the
// memory is readable but no NUL appears in range.
func (d *Debugger) ReadString(address uint64, maxSize int) ([]byte, error) {
	if address == 0 {
		return nil, nil
	}
	if d.abiVal.AddressBits() == 32 {
		address &= 0xFFFFFFFF
	}

	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", d.pid))
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	if _, err := f.Seek(int64(address), io.SeekStart); err != nil {
		return nil, nil
	}

	buf := make([]byte, maxSize+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, nil
	}
	buf = buf[:n]

	if idx := bytes.IndexByte(buf, 0); idx >= 0 {
		return buf[:idx], nil
	}
	return nil, &MaxLengthExceededError{Address: address, MaxSize: maxSize}
}
