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

// Package cabfile reads and writes Microsoft Cabinet (CAB) archive files.
//
// Cabinets group files into folders that share a single compression
// stream (None or MSZIP; Quantum and LZX folders are recognized when the
// directory is parsed, but their content can be neither decompressed nor
// compressed).
// Reading is lazy and seek-capable: folder data blocks are discovered and
// decompressed on demand, and per-file readers support Seek. Writing
// requires a seekable sink, since the on-disk format is full of forward
// references (total size, per-folder block count, per-file offsets) that
// are back-patched once the content is known.
//
// Normative references are [MS-CAB] for the Cabinet file format and
// [MS-MCI] for the Microsoft ZIP Compression and Decompression Data
// Structure.
//
// [MS-CAB]: http://download.microsoft.com/download/4/d/a/4da14f27-b4ef-4170-a6e6-5b1ef85b1baa/[ms-cab].pdf
// [MS-MCI]: http://interoperability.blob.core.windows.net/files/MS-MCI/[MS-MCI].pdf
package cabfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// Cabinet provides read access to a Microsoft Cabinet file: its folder and
// file directories, and the decompressed content of any file within it.
type Cabinet struct {
	r io.ReadSeeker

	setID, setIndex uint16
	headerReserve   []byte
	dataReserveSize uint8

	folders []*folderEntry
	files   []*fileEntry

	// Sequential walk state for Next().
	nextIdx    int
	nextFolder *FolderReader
	nextFldIdx int

	borrowed bool // guards against nested concurrent reads (§5)
}

type folderEntry struct {
	firstDataBlockOffset uint32
	numDataBlocks        uint16
	compression          CompressionSpec
	reserve              []byte
}

type fileEntry struct {
	name           string
	size           uint32
	offsetInFolder uint32
	folderIndex    uint16
	date, time     uint16
	attributes     uint16
}

// New parses r as a Cabinet file, reading and sanity-checking the header,
// folder directory, and file directory. The folder data blocks themselves
// are not read until a file's content is requested.
func New(r io.ReadSeeker) (*Cabinet, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, errInvalidDataf(err, "could not seek to the beginning")
	}

	var hdr wireHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, errInvalidDataf(err, "could not deserialize header")
	}
	if hdr.Signature != signatureMSCF {
		return nil, errInvalidData("invalid cabinet signature %q", hdr.Signature)
	}
	if hdr.Reserved1 != 0 || hdr.Reserved2 != 0 || hdr.Reserved3 != 0 {
		return nil, errInvalidData("reserved header fields must be zero: %d, %d, %d", hdr.Reserved1, hdr.Reserved2, hdr.Reserved3)
	}
	if hdr.CBCabinet > 0x7FFFFFFF {
		return nil, errInvalidData("cabinet size %d exceeds the maximum of 0x7FFFFFFF", hdr.CBCabinet)
	}
	if hdr.VersionMajor != versionMajor || hdr.VersionMinor > versionMinor {
		return nil, errInvalidData("unsupported cabinet format version %d.%d", hdr.VersionMajor, hdr.VersionMinor)
	}

	c := &Cabinet{r: r, setID: hdr.SetID, setIndex: hdr.ICabinet}

	folderReserveSize := uint8(0)
	if hdr.Flags&hdrReservePresent != 0 {
		var reserveHdr wireHeaderReserve
		if err := binary.Read(r, binary.LittleEndian, &reserveHdr); err != nil {
			return nil, errInvalidDataf(err, "could not deserialize header reserve sizes")
		}
		if reserveHdr.CBCFHeader > MaxHeaderReserve {
			return nil, errInvalidData("header reserve size %d exceeds the maximum of %d", reserveHdr.CBCFHeader, MaxHeaderReserve)
		}
		if reserveHdr.CBCFFolder > MaxFolderReserve {
			return nil, errInvalidData("folder reserve size %d exceeds the maximum of %d", reserveHdr.CBCFFolder, MaxFolderReserve)
		}
		c.dataReserveSize = reserveHdr.CBCFData
		folderReserveSize = reserveHdr.CBCFFolder
		if reserveHdr.CBCFHeader > 0 {
			c.headerReserve = make([]byte, reserveHdr.CBCFHeader)
			if _, err := io.ReadFull(r, c.headerReserve); err != nil {
				return nil, errInvalidDataf(err, "could not read header reserve bytes")
			}
		}
	}
	if err := readFolderEntries(r, &hdr, folderReserveSize, c); err != nil {
		return nil, err
	}

	if hdr.Flags&hdrPrevCabinet != 0 {
		if _, err := readCString(r); err != nil {
			return nil, errInvalidDataf(err, "could not skip previous-cabinet name")
		}
		if _, err := readCString(r); err != nil {
			return nil, errInvalidDataf(err, "could not skip previous-disk name")
		}
	}
	if hdr.Flags&hdrNextCabinet != 0 {
		if _, err := readCString(r); err != nil {
			return nil, errInvalidDataf(err, "could not skip next-cabinet name")
		}
		if _, err := readCString(r); err != nil {
			return nil, errInvalidDataf(err, "could not skip next-disk name")
		}
	}

	if _, err := r.Seek(int64(hdr.COFFFiles), io.SeekStart); err != nil {
		return nil, errInvalidDataf(err, "could not seek to the start of the file directory")
	}
	for i := uint16(0); i < hdr.CFiles; i++ {
		var wf wireFile
		if err := binary.Read(r, binary.LittleEndian, &wf); err != nil {
			return nil, errInvalidDataf(err, "could not deserialize file entry %d", i)
		}
		if wf.IFolder >= uint16(len(c.folders)) {
			return nil, errInvalidData("file entry %d references out-of-range folder %d", i, wf.IFolder)
		}
		name, err := readCString(r)
		if err != nil {
			return nil, errInvalidDataf(err, "could not read name of file entry %d", i)
		}
		if len(name)+1 > maxNameLen {
			return nil, errInvalidData("file entry %d name exceeds %d bytes", i, maxNameLen)
		}
		c.files = append(c.files, &fileEntry{
			name:           name,
			size:           wf.CBFile,
			offsetInFolder: wf.UOffFolderStart,
			folderIndex:    wf.IFolder,
			date:           wf.Date,
			time:           wf.Time,
			attributes:     wf.Attribs,
		})
	}

	return c, nil
}

func readFolderEntries(r io.ReadSeeker, hdr *wireHeader, folderReserveSize uint8, c *Cabinet) error {
	for i := uint16(0); i < hdr.CFolders; i++ {
		var wfl wireFolder
		if err := binary.Read(r, binary.LittleEndian, &wfl); err != nil {
			return errInvalidDataf(err, "could not deserialize folder entry %d", i)
		}
		spec, err := decodeCompressionBitfield(wfl.TypeCompress)
		if err != nil {
			return errInvalidDataf(err, "folder entry %d has an invalid compression bitfield", i)
		}
		var reserve []byte
		if folderReserveSize > 0 {
			reserve = make([]byte, folderReserveSize)
			if _, err := io.ReadFull(r, reserve); err != nil {
				return errInvalidDataf(err, "could not read folder %d reserve bytes", i)
			}
		}
		c.folders = append(c.folders, &folderEntry{
			firstDataBlockOffset: wfl.COFFCabStart,
			numDataBlocks:        wfl.CCFData,
			compression:          spec,
			reserve:              reserve,
		})
	}
	return nil
}

func readCString(r io.Reader) (string, error) {
	var s []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(s), nil
		}
		s = append(s, b[0])
	}
}

// FileList returns the names of every file in the cabinet, in directory
// order.
func (c *Cabinet) FileList() []string {
	var names []string
	for _, f := range c.files {
		names = append(names, f.name)
	}
	return names
}

// SetID returns the 16-bit application tag shared by every cabinet in a
// multi-volume set.
func (c *Cabinet) SetID() uint16 { return c.setID }

// SetIndex returns this cabinet's position within its set.
func (c *Cabinet) SetIndex() uint16 { return c.setIndex }

// FolderEntries returns an immutable view of every folder in the cabinet,
// in directory order.
func (c *Cabinet) FolderEntries() []FolderView {
	views := make([]FolderView, len(c.folders))
	for i := range c.folders {
		views[i] = FolderView{cab: c, idx: uint16(i)}
	}
	return views
}

// FileEntry looks up a file's metadata by name without decompressing its
// content.
func (c *Cabinet) FileEntry(name string) (FileMeta, bool) {
	for _, f := range c.files {
		if f.name == name {
			return fileMetaOf(f), true
		}
	}
	return FileMeta{}, false
}

// newFolderReader constructs a fresh lazy decompressing reader over the
// given folder. Only one decompressing reader may be in use against the
// cabinet's underlying source at a time (§5); acquire/release guard this.
func (c *Cabinet) newFolderReader(idx uint16) (*FolderReader, error) {
	if int(idx) >= len(c.folders) {
		return nil, errInvalidInput("folder index %d out of range", idx)
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	fr, err := newFolderReader(c.r, c.folders[idx], c.dataReserveSize)
	if err != nil {
		c.release()
		return nil, err
	}
	fr.onClose = c.release
	return fr, nil
}

func (c *Cabinet) acquire() error {
	if c.borrowed {
		return errInvalidInput("cabinet's underlying stream is already borrowed by another reader")
	}
	c.borrowed = true
	return nil
}

func (c *Cabinet) release() { c.borrowed = false }

// Content returns the decompressed content of the named file. Every call
// opens a fresh folder reader and decompresses the folder's blocks from the
// first one up to the end of the file.
func (c *Cabinet) Content(name string) (io.Reader, error) {
	for _, f := range c.files {
		if f.name != name {
			continue
		}
		fr, err := c.newFolderReader(f.folderIndex)
		if err != nil {
			return nil, errInvalidDataf(err, "could not open folder %d", f.folderIndex)
		}
		defer fr.Close()
		if err := fr.seekTo(f.offsetInFolder); err != nil {
			return nil, errInvalidDataf(err, "could not seek to start of file data")
		}
		blob := make([]byte, f.size)
		if _, err := io.ReadFull(fr, blob); err != nil {
			return nil, errInvalidDataf(err, "could not read file data")
		}
		return bytes.NewReader(blob), nil
	}
	return nil, errNotFound("file %q not found in cabinet", name)
}

// ReadFile returns a seekable reader over the named file's decompressed
// content.
func (c *Cabinet) ReadFile(name string) (*FileReader, error) {
	for _, f := range c.files {
		if f.name != name {
			continue
		}
		fr, err := c.newFolderReader(f.folderIndex)
		if err != nil {
			return nil, err
		}
		return &FileReader{folder: fr, start: f.offsetInFolder, size: f.size}, nil
	}
	return nil, errNotFound("file %q not found in cabinet", name)
}

// Next returns files one at a time along with a reader limited to that
// file's content, for walking through every file in the cabinet
// sequentially. It returns io.EOF once every file has been returned.
func (c *Cabinet) Next() (io.Reader, os.FileInfo, error) {
	if c.nextIdx >= len(c.files) {
		if c.nextFolder != nil {
			c.nextFolder.Close()
			c.nextFolder = nil
		}
		return nil, nil, io.EOF
	}
	f := c.files[c.nextIdx]

	if c.nextFolder == nil || int(f.folderIndex) != c.nextFldIdx {
		if c.nextFolder != nil {
			c.nextFolder.Close()
		}
		fr, err := c.newFolderReader(f.folderIndex)
		if err != nil {
			return nil, nil, errInvalidDataf(err, "could not open folder %d", f.folderIndex)
		}
		c.nextFolder = fr
		c.nextFldIdx = int(f.folderIndex)
	}
	if err := c.nextFolder.seekTo(f.offsetInFolder); err != nil {
		return nil, nil, errInvalidDataf(err, "could not seek to start of file data")
	}

	modTime, ok := decodeDOSTime(f.date, f.time)
	if !ok {
		modTime = time.Time{}
	}
	fs := &fileStat{name: f.name, size: int64(f.size), modTime: modTime}

	c.nextIdx++
	return io.LimitReader(c.nextFolder, int64(f.size)), fs, nil
}

// A fileStat is the os.FileInfo implementation returned by Next.
type fileStat struct {
	name    string
	size    int64
	modTime time.Time
}

func (fs *fileStat) Name() string       { return fs.name }
func (fs *fileStat) Size() int64        { return fs.size }
func (fs *fileStat) Mode() os.FileMode  { return os.FileMode(0700) }
func (fs *fileStat) ModTime() time.Time { return fs.modTime }
func (fs *fileStat) Sys() interface{}   { return nil }
func (fs *fileStat) IsDir() bool        { return false }

func (fs *fileStat) String() string {
	return fmt.Sprintf("%s (%d bytes, modified %s)", fs.name, fs.size, fs.modTime)
}
