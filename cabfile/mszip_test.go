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
	"math/rand"
	"testing"
)

func TestMSZIPRoundTripSingleBlock(t *testing.T) {
	input := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 100)
	if len(input) > MaxDataBlockSize {
		input = input[:MaxDataBlockSize]
	}

	comp, err := newMSZIPCompressor(6)
	if err != nil {
		t.Fatalf("newMSZIPCompressor: %v", err)
	}
	framed, err := comp.compressBlock(input, true)
	if err != nil {
		t.Fatalf("compressBlock: %v", err)
	}

	var dec mszipDecompressor
	out, err := dec.decompressBlock(framed, len(input))
	if err != nil {
		t.Fatalf("decompressBlock: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Errorf("round-tripped data does not match input")
	}
}

func TestMSZIPRoundTripAcrossBlocks(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, total := range []int{1000, MaxDataBlockSize + 1000, MaxDataBlockSize * 3} {
		data := make([]byte, total)
		// Semi-compressible content: repeated small phrases rather than
		// pure random noise, closer to real folder content.
		phrase := []byte("mszip cross-block dictionary test payload; ")
		for i := 0; i < len(data); {
			i += copy(data[i:], phrase)
		}
		for i := range data {
			if r.Intn(20) == 0 {
				data[i] = byte(r.Intn(256))
			}
		}

		comp, err := newMSZIPCompressor(6)
		if err != nil {
			t.Fatalf("newMSZIPCompressor: %v", err)
		}
		var dec mszipDecompressor
		var got bytes.Buffer

		for off := 0; off < len(data); off += MaxDataBlockSize {
			end := off + MaxDataBlockSize
			if end > len(data) {
				end = len(data)
			}
			final := end == len(data)
			chunk := data[off:end]
			framed, err := comp.compressBlock(chunk, final)
			if err != nil {
				t.Fatalf("total=%d: compressBlock: %v", total, err)
			}
			out, err := dec.decompressBlock(framed, len(chunk))
			if err != nil {
				t.Fatalf("total=%d: decompressBlock: %v", total, err)
			}
			got.Write(out)
		}
		if !bytes.Equal(got.Bytes(), data) {
			t.Errorf("total=%d: round-tripped data does not match input", total)
		}
	}
}

func TestStoredBlockFallback(t *testing.T) {
	input := make([]byte, 64)
	for i := range input {
		input[i] = byte(i * 37) // incompressible-looking noise
	}
	got := storedBlock(input)
	if len(got) != len(input)+7 {
		t.Fatalf("storedBlock length = %d; want %d", len(got), len(input)+7)
	}
	if got[0] != mszipSignature[0] || got[1] != mszipSignature[1] {
		t.Errorf("storedBlock missing CK signature")
	}

	var dec mszipDecompressor
	out, err := dec.decompressBlock(got, len(input))
	if err != nil {
		t.Fatalf("decompressBlock(storedBlock(...)): %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Errorf("stored block did not round-trip")
	}
}

func TestDecompressBlockRejectsBadSignature(t *testing.T) {
	var dec mszipDecompressor
	if _, err := dec.decompressBlock([]byte{0x00, 0x00, 0x01}, 1); err == nil {
		t.Errorf("decompressBlock accepted a payload without the CK signature")
	}
}
