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
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/orcaman/writerseeker"
)

// buildCabinet declares one folder of the given compression with the
// listed files (in order) and returns a reader over the finished cabinet.
func buildCabinet(t *testing.T, compression CompressionSpec, files map[string][]byte, order []string) io.ReadSeeker {
	t.Helper()
	b := NewCabinetBuilder()
	fb := b.AddFolder(compression)
	for _, name := range order {
		fb.AddFile(name)
	}

	var sink writerseeker.WriterSeeker
	cw, err := b.Build(&sink)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, name := range order {
		fw, err := cw.NextFile()
		if err != nil {
			t.Fatalf("NextFile(%q): %v", name, err)
		}
		if _, err := fw.Write(files[name]); err != nil {
			t.Fatalf("Write(%q): %v", name, err)
		}
		if err := fw.Close(); err != nil {
			t.Fatalf("Close(%q): %v", name, err)
		}
	}
	if _, err := cw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return sink.BytesReader()
}

func TestRoundTripUncompressedSingleFile(t *testing.T) {
	content := bytes.Repeat([]byte("hi.txt contents "), 6)[:0x59]
	r := buildCabinet(t, CompressionSpec{Type: CompressionNone}, map[string][]byte{"hi.txt": content}, []string{"hi.txt"})

	cab, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if diff := cmp.Diff([]string{"hi.txt"}, cab.FileList()); diff != "" {
		t.Errorf("FileList mismatch (-want +got):\n%s", diff)
	}
	got, err := cab.Content("hi.txt")
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	gotBytes, err := io.ReadAll(got)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(gotBytes, content) {
		t.Errorf("Content(hi.txt) = %q; want %q", gotBytes, content)
	}
}

func TestRoundTripTwoFilesOneFolder(t *testing.T) {
	files := map[string][]byte{
		"a.txt": bytes.Repeat([]byte("A"), 0x40),
		"b.txt": bytes.Repeat([]byte("B"), 0x40),
	}
	order := []string{"a.txt", "b.txt"}
	r := buildCabinet(t, CompressionSpec{Type: CompressionNone}, files, order)

	cab, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, name := range order {
		got, err := cab.Content(name)
		if err != nil {
			t.Fatalf("Content(%q): %v", name, err)
		}
		gotBytes, _ := io.ReadAll(got)
		if !bytes.Equal(gotBytes, files[name]) {
			t.Errorf("Content(%q) = %q; want %q", name, gotBytes, files[name])
		}
	}
}

func TestRoundTripNonASCIIName(t *testing.T) {
	const name = "☃.txt"
	content := bytes.Repeat([]byte("snowman"), 13)[:0x55]
	r := buildCabinet(t, CompressionSpec{Type: CompressionNone}, map[string][]byte{name: content}, []string{name})

	cab, err := New(r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	meta, ok := cab.FileEntry(name)
	if !ok {
		t.Fatalf("FileEntry(%q) not found", name)
	}
	if meta.Attributes&AttrNameIsUTF == 0 {
		t.Errorf("FileEntry(%q).Attributes = %#x; want NAME_IS_UTF set", name, meta.Attributes)
	}
	got, err := cab.Content(name)
	if err != nil {
		t.Fatalf("Content(%q): %v", name, err)
	}
	gotBytes, _ := io.ReadAll(got)
	if !bytes.Equal(gotBytes, content) {
		t.Errorf("Content(%q) = %q; want %q", name, gotBytes, content)
	}
}

func TestRoundTripMultiBlockMSZIP(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, total := range []int{1000, MaxDataBlockSize + 1000, MaxDataBlockSize * 10} {
		content := make([]byte, total)
		phrase := []byte("repeated filler content for compressibility ")
		for i := 0; i < len(content); {
			i += copy(content[i:], phrase)
		}
		for i := range content {
			if r.Intn(25) == 0 {
				content[i] = byte(r.Intn(256))
			}
		}

		cr := buildCabinet(t, CompressionSpec{Type: CompressionMSZIP}, map[string][]byte{"blob.bin": content}, []string{"blob.bin"})
		cab, err := New(cr)
		if err != nil {
			t.Fatalf("total=%d: New: %v", total, err)
		}
		got, err := cab.Content("blob.bin")
		if err != nil {
			t.Fatalf("total=%d: Content: %v", total, err)
		}
		gotBytes, err := io.ReadAll(got)
		if err != nil {
			t.Fatalf("total=%d: ReadAll: %v", total, err)
		}
		if !bytes.Equal(gotBytes, content) {
			t.Errorf("total=%d: round-tripped content did not match (lengths %d vs %d)", total, len(gotBytes), len(content))
		}

		folders := cab.FolderEntries()
		if len(folders) != 1 {
			t.Fatalf("total=%d: FolderEntries() returned %d folders; want 1", total, len(folders))
		}
		wantBlocks := (total + MaxDataBlockSize - 1) / MaxDataBlockSize
		if int(folders[0].NumDataBlocks()) != wantBlocks {
			t.Errorf("total=%d: NumDataBlocks() = %d; want %d", total, folders[0].NumDataBlocks(), wantBlocks)
		}
	}
}

func TestRoundTripEmptyFolder(t *testing.T) {
	b := NewCabinetBuilder()
	b.AddFolder(CompressionSpec{Type: CompressionNone}) // no files

	var sink writerseeker.WriterSeeker
	cw, err := b.Build(&sink)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := cw.NextFile(); err != io.EOF {
		t.Fatalf("NextFile() on an empty declaration = %v; want io.EOF", err)
	}
	if _, err := cw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	cab, err := New(sink.BytesReader())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	folders := cab.FolderEntries()
	if len(folders) != 1 || folders[0].NumDataBlocks() != 0 {
		t.Errorf("empty folder did not round-trip with zero data blocks: %+v", folders)
	}
}
