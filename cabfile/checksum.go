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

// checksum implements the CAB-specific 32-bit XOR-fold checksum (§4.2). It
// accumulates 4-byte words with Update and folds any 1-3 byte tail into the
// final value on Sum.
type checksum struct {
	accum uint32
	tail  [4]byte
	ntail int
}

// Update folds p into the running checksum. It may be called repeatedly;
// any previously buffered tail bytes are combined with p before folding
// full words.
func (c *checksum) Update(p []byte) {
	if c.ntail > 0 {
		n := copy(c.tail[c.ntail:], p)
		c.ntail += n
		p = p[n:]
		if c.ntail < 4 {
			return
		}
		c.foldWord(c.tail[0], c.tail[1], c.tail[2], c.tail[3])
		c.ntail = 0
	}
	for len(p) >= 4 {
		c.foldWord(p[0], p[1], p[2], p[3])
		p = p[4:]
	}
	c.ntail = copy(c.tail[:], p)
}

func (c *checksum) foldWord(b0, b1, b2, b3 byte) {
	c.accum ^= uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
}

// Sum returns the current checksum value, folding in any buffered 1-3 byte
// tail per the swapped-byte rule in §4.2.
func (c *checksum) Sum() uint32 {
	v := c.accum
	switch c.ntail {
	case 0:
		// nothing to do
	case 1:
		v ^= uint32(c.tail[0])
	case 2:
		v ^= uint32(c.tail[0])<<8 | uint32(c.tail[1])
	case 3:
		v ^= uint32(c.tail[0])<<16 | uint32(c.tail[1])<<8 | uint32(c.tail[2])
	}
	return v
}

// rawChecksum computes the checksum of a single byte slice in one call.
func rawChecksum(p []byte) uint32 {
	var c checksum
	c.Update(p)
	return c.Sum()
}

// encodeBlockChecksum computes the on-disk checksum for a data block: the
// raw checksum of reserve bytes followed by the compressed payload, XORed
// with the sizes word. A stored value of 0 disables verification on read;
// this package writes whatever the formula produces, including the
// astronomically unlikely case where that happens to be 0.
func encodeBlockChecksum(reserve, payload []byte, compressedSize, uncompressedSize uint16) uint32 {
	var c checksum
	c.Update(reserve)
	c.Update(payload)
	sizes := uint32(compressedSize) | uint32(uncompressedSize)<<16
	return c.Sum() ^ sizes
}

// verifyBlockChecksum reports whether the stored checksum for a block
// matches its reserve bytes and compressed payload. A stored value of 0
// means "absent"; verification is skipped and true is returned.
func verifyBlockChecksum(stored uint32, reserve, payload []byte, compressedSize, uncompressedSize uint16) (ok bool, computed uint32) {
	if stored == 0 {
		return true, 0
	}
	computed = encodeBlockChecksum(reserve, payload, compressedSize, uncompressedSize)
	return computed == stored, computed
}
