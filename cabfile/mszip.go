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

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// mszipSignature is the 2-byte marker at the start of every MSZIP data
// block (§4.4).
var mszipSignature = [2]byte{'C', 'K'}

// emptyBlockMarker is appended after a non-terminal block's deflate bytes
// so that a stream built from concatenated Sync-flushed blocks still
// parses as a raw deflate bitstream ending in an empty stored block,
// matching what gcab/Windows-produced cabinets emit.
var emptyBlockMarker = [2]byte{0x03, 0x00}

// mszipCompressor drives one continuous deflate stream across every block
// of a folder (§4.4: "one deflate stream, kept alive across blocks"). Each
// call to compressBlock either Sync-flushes (non-terminal) or Closes
// (terminal) the underlying writer and returns that call's framed output.
type mszipCompressor struct {
	buf *bytes.Buffer
	fw  *flate.Writer
	closed bool
}

func newMSZIPCompressor(level int) (*mszipCompressor, error) {
	buf := &bytes.Buffer{}
	fw, err := flate.NewWriter(buf, level)
	if err != nil {
		return nil, errInvalidInput("could not create deflate writer: %v", err)
	}
	return &mszipCompressor{buf: buf, fw: fw}, nil
}

// compressBlock compresses input (at most MaxDataBlockSize bytes) and
// returns the framed on-disk block payload (signature + deflate bytes,
// falling back to a stored block if compression expanded the data).
func (c *mszipCompressor) compressBlock(input []byte, final bool) ([]byte, error) {
	c.buf.Reset()
	if _, err := c.fw.Write(input); err != nil {
		return nil, errInvalidData("mszip: deflate write failed: %v", err)
	}
	if final {
		if err := c.fw.Close(); err != nil {
			return nil, errInvalidData("mszip: deflate close failed: %v", err)
		}
		c.closed = true
	} else {
		if err := c.fw.Flush(); err != nil {
			return nil, errInvalidData("mszip: deflate flush failed: %v", err)
		}
	}

	payload := make([]byte, 0, 2+c.buf.Len()+2)
	payload = append(payload, mszipSignature[:]...)
	payload = append(payload, c.buf.Bytes()...)
	if !final {
		payload = append(payload, emptyBlockMarker[:]...)
	}

	if len(payload) > len(input)+7 {
		return storedBlock(input), nil
	}
	return payload, nil
}

// storedBlock frames input as an uncompressed MSZIP block: signature, a
// single BFINAL=1 stored-block header byte, the length and its ones'
// complement, then the raw bytes. This caps per-block overhead at 7 bytes
// regardless of how poorly the data compresses (§4.4 step 4).
func storedBlock(input []byte) []byte {
	n := uint16(len(input))
	out := make([]byte, 0, len(input)+7)
	out = append(out, mszipSignature[:]...)
	out = append(out, 0x01) // BFINAL=1, BTYPE=00 (stored), byte-aligned
	out = append(out, byte(n), byte(n>>8))
	comp := ^n
	out = append(out, byte(comp), byte(comp>>8))
	out = append(out, input...)
	return out
}

// mszipDecompressor decodes one folder's MSZIP blocks in order. Each block
// is decoded by an independent flate reader seeded with up to
// MaxDataBlockSize bytes of the previous block's decompressed output,
// since klauspost/compress (like stdlib compress/flate) lets a reader be
// constructed with an explicit dictionary; this makes the Rust original's
// synthetic-stored-block dictionary trick unnecessary (see DESIGN.md).
type mszipDecompressor struct {
	dict []byte
}

// decompressBlock validates the block signature and decodes exactly
// uncompressedSize bytes from payload.
func (d *mszipDecompressor) decompressBlock(payload []byte, uncompressedSize int) ([]byte, error) {
	if len(payload) < 2 || payload[0] != mszipSignature[0] || payload[1] != mszipSignature[1] {
		return nil, errInvalidData("missing MSZIP signature in data block")
	}
	body := payload[2:]

	var fr io.ReadCloser
	if len(d.dict) == 0 {
		fr = flate.NewReader(bytes.NewReader(body))
	} else {
		fr = flate.NewReaderDict(bytes.NewReader(body), d.dict)
	}
	defer fr.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, errInvalidData("could not decompress MSZIP block to expected size %d: %v", uncompressedSize, err)
	}
	d.updateDict(out)
	return out, nil
}

// updateDict keeps up to the last MaxDataBlockSize bytes of decompressed
// output as the dictionary for the next block.
func (d *mszipDecompressor) updateDict(out []byte) {
	if len(out) >= MaxDataBlockSize {
		tail := append([]byte(nil), out[len(out)-MaxDataBlockSize:]...)
		d.dict = tail
		return
	}
	combined := make([]byte, 0, len(d.dict)+len(out))
	combined = append(combined, d.dict...)
	combined = append(combined, out...)
	if len(combined) > MaxDataBlockSize {
		combined = combined[len(combined)-MaxDataBlockSize:]
	}
	d.dict = combined
}
