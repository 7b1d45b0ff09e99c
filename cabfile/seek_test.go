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
	"testing"
)

// buildWordStream returns n space-separated five-letter words, deterministic
// and compressible, for exercising MSZIP's cross-block dictionary under
// seeks.
func buildWordStream(n int) []byte {
	var buf bytes.Buffer
	words := []string{"alpha", "bravo", "charl", "delta", "ecoho", "foxtr", "golfx"}
	for i := 0; i < n; i++ {
		buf.WriteString(words[i%len(words)])
		buf.WriteByte(' ')
	}
	return buf.Bytes()
}

func TestSeekNearEndThenReadExact(t *testing.T) {
	content := buildWordStream(30000)
	r := buildCabinet(t, CompressionSpec{Type: CompressionMSZIP}, map[string][]byte{"words.txt": content}, []string{"words.txt"})

	cab, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fr, err := cab.ReadFile("words.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer fr.Close()

	const tail = 37
	want := content[len(content)-tail:]
	if _, err := fr.Seek(int64(len(content)-tail), io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, tail)
	if _, err := io.ReadFull(fr, got); err != nil {
		t.Fatalf("ReadFull after seek: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read after seek = %q; want %q", got, want)
	}
}

func TestSeekBackwardResetsAndReplays(t *testing.T) {
	content := buildWordStream(20000)
	r := buildCabinet(t, CompressionSpec{Type: CompressionMSZIP}, map[string][]byte{"words.txt": content}, []string{"words.txt"})

	cab, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fr, err := cab.ReadFile("words.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer fr.Close()

	// Read forward past the first block boundary, then seek back into the
	// first block; the folder reader must reset its decompressor and
	// replay forward to recover the correct bytes.
	forward := make([]byte, MaxDataBlockSize+500)
	if _, err := io.ReadFull(fr, forward); err != nil {
		t.Fatalf("ReadFull forward: %v", err)
	}
	if !bytes.Equal(forward, content[:len(forward)]) {
		t.Fatalf("forward read mismatch")
	}

	if _, err := fr.Seek(10, io.SeekStart); err != nil {
		t.Fatalf("Seek backward: %v", err)
	}
	back := make([]byte, 100)
	if _, err := io.ReadFull(fr, back); err != nil {
		t.Fatalf("ReadFull after backward seek: %v", err)
	}
	if !bytes.Equal(back, content[10:110]) {
		t.Errorf("backward-seek read = %q; want %q", back, content[10:110])
	}
}

func TestSeekPastEndOfFileFails(t *testing.T) {
	content := []byte("short content")
	r := buildCabinet(t, CompressionSpec{Type: CompressionNone}, map[string][]byte{"f": content}, []string{"f"})
	cab, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fr, err := cab.ReadFile("f")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer fr.Close()

	if _, err := fr.Seek(int64(len(content)+1), io.SeekStart); err == nil {
		t.Errorf("Seek past end of file succeeded; want an error")
	}
}
