// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cabfile

import "testing"

func TestRawChecksum(t *testing.T) {
	for _, tt := range []struct {
		name string
		data []byte
		want uint32
	}{
		{"hello world", []byte("\x0e\x00\x0e\x00Hello, world!\n"), 0x7f2e1a4c},
		{"two lines", []byte("\x1d\x00\x1d\x00Hello, world!\nSee you later!\n"), 0x3509541a},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := rawChecksum(tt.data); got != tt.want {
				t.Errorf("rawChecksum(%q) = %#08x; want %#08x", tt.data, got, tt.want)
			}
		})
	}
}

func TestChecksumUpdateAcrossCalls(t *testing.T) {
	data := []byte("\x1d\x00\x1d\x00Hello, world!\nSee you later!\n")
	want := rawChecksum(data)

	for _, split := range []int{1, 2, 3, 4, 5, 7, len(data) - 1, len(data)} {
		var c checksum
		c.Update(data[:split])
		c.Update(data[split:])
		if got := c.Sum(); got != want {
			t.Errorf("splitting at %d: checksum.Sum() = %#08x; want %#08x", split, got, want)
		}
	}
}

func TestVerifyBlockChecksumSkipsZero(t *testing.T) {
	ok, computed := verifyBlockChecksum(0, nil, []byte("anything"), 8, 8)
	if !ok {
		t.Errorf("verifyBlockChecksum with stored=0 returned ok=false")
	}
	if computed != 0 {
		t.Errorf("verifyBlockChecksum with stored=0 returned computed=%#08x; want 0", computed)
	}
}

func TestEncodeVerifyBlockChecksumRoundTrip(t *testing.T) {
	reserve := []byte{1, 2, 3}
	payload := []byte("the quick brown fox jumps over the lazy dog")
	sum := encodeBlockChecksum(reserve, payload, uint16(len(payload)), 44)
	if sum == 0 {
		t.Fatalf("test fixture accidentally produced the skip-verification sentinel 0")
	}
	ok, computed := verifyBlockChecksum(sum, reserve, payload, uint16(len(payload)), 44)
	if !ok || computed != sum {
		t.Errorf("verifyBlockChecksum(%#08x, ...) = (%v, %#08x); want (true, %#08x)", sum, ok, computed, sum)
	}

	// Corrupting the payload must be detected.
	corrupt := append([]byte(nil), payload...)
	corrupt[0] ^= 0xff
	if ok, _ := verifyBlockChecksum(sum, reserve, corrupt, uint16(len(corrupt)), 44); ok {
		t.Errorf("verifyBlockChecksum did not detect payload corruption")
	}
}
