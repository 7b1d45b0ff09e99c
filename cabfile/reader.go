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
	"encoding/binary"
	"io"
	"time"
)

// FolderView is an immutable, read-only view of one folder's metadata.
type FolderView struct {
	cab *Cabinet
	idx uint16
}

// Compression reports the folder's declared compression scheme.
func (v FolderView) Compression() CompressionSpec { return v.cab.folders[v.idx].compression }

// NumDataBlocks reports how many CFDATA blocks make up the folder.
func (v FolderView) NumDataBlocks() uint16 { return v.cab.folders[v.idx].numDataBlocks }

// Reserve returns the folder's application-defined reserve bytes.
func (v FolderView) Reserve() []byte { return v.cab.folders[v.idx].reserve }

// Files returns metadata for every file owned by this folder, in
// directory order.
func (v FolderView) Files() []FileMeta {
	var out []FileMeta
	for _, f := range v.cab.files {
		if f.folderIndex == v.idx {
			out = append(out, fileMetaOf(f))
		}
	}
	return out
}

// FileMeta is a file's directory-entry metadata, without its content.
type FileMeta struct {
	Name           string
	Attributes     uint16
	ModTime        time.Time
	HasModTime     bool // false when the stored date/time was not a valid calendar value
	Size           uint32
	OffsetInFolder uint32
	FolderIndex    uint16
}

func fileMetaOf(f *fileEntry) FileMeta {
	modTime, ok := decodeDOSTime(f.date, f.time)
	return FileMeta{
		Name:           f.name,
		Attributes:     f.attributes,
		ModTime:        modTime,
		HasModTime:     ok,
		Size:           f.size,
		OffsetInFolder: f.offsetInFolder,
		FolderIndex:    f.folderIndex,
	}
}

// FolderReader lazily discovers and decompresses a folder's data blocks.
// Only blocks 0..=current have been read from the underlying stream at any
// point; later blocks are parsed on demand as the reader advances.
type FolderReader struct {
	r               io.ReadSeeker
	fldr            *folderEntry
	dataReserveSize uint8
	decomp          *mszipDecompressor

	numBlocks        uint16
	blockIdx         uint16 // number of blocks consumed so far
	blockData        []byte // current block's decompressed bytes
	blockOffset      int    // read position within blockData
	cumulativeBefore uint32 // decompressed-stream offset where blockData begins
	firstBlockOffset int64
	nextHeaderOffset int64

	onClose func()
	closed  bool
}

func newFolderReader(r io.ReadSeeker, fldr *folderEntry, dataReserveSize uint8) (*FolderReader, error) {
	fr := &FolderReader{
		r:                r,
		fldr:             fldr,
		dataReserveSize:  dataReserveSize,
		numBlocks:        fldr.numDataBlocks,
		firstBlockOffset: int64(fldr.firstDataBlockOffset),
	}
	switch fldr.compression.Type {
	case CompressionNone:
	case CompressionMSZIP:
		fr.decomp = &mszipDecompressor{}
	case CompressionQuantum:
		return nil, errUnsupported("folder uses unsupported Quantum compression")
	case CompressionLZX:
		return nil, errUnsupported("folder uses unsupported LZX compression")
	default:
		return nil, errInvalidData("folder uses unrecognized compression type %d", fldr.compression.Type)
	}
	if err := fr.reset(); err != nil {
		return nil, err
	}
	return fr, nil
}

// reset rewinds to block 0 and clears decompressor state, per the
// "backward seek resets the decompressor" rule (§4.5, §9).
func (fr *FolderReader) reset() error {
	if _, err := fr.r.Seek(fr.firstBlockOffset, io.SeekStart); err != nil {
		return errInvalidDataf(err, "could not seek to folder data")
	}
	fr.nextHeaderOffset = fr.firstBlockOffset
	fr.blockIdx = 0
	fr.cumulativeBefore = 0
	fr.blockData = nil
	fr.blockOffset = 0
	if fr.decomp != nil {
		fr.decomp.dict = nil
	}
	if fr.numBlocks > 0 {
		return fr.loadNextBlock()
	}
	return nil
}

// loadNextBlock reads, checksum-verifies, and decompresses the next data
// block, discovering its header immediately after the previous block's
// payload.
func (fr *FolderReader) loadNextBlock() error {
	if fr.blockIdx >= fr.numBlocks {
		return io.EOF
	}
	if _, err := fr.r.Seek(fr.nextHeaderOffset, io.SeekStart); err != nil {
		return errInvalidDataf(err, "could not seek to data block %d", fr.blockIdx)
	}
	var wd wireDataBlock
	if err := binary.Read(fr.r, binary.LittleEndian, &wd); err != nil {
		return errInvalidDataf(err, "could not deserialize data block %d header", fr.blockIdx)
	}
	if wd.CBUncomp > MaxDataBlockSize {
		return errInvalidData("data block %d uncompressed size %d exceeds %d", fr.blockIdx, wd.CBUncomp, MaxDataBlockSize)
	}
	var reserve []byte
	if fr.dataReserveSize > 0 {
		reserve = make([]byte, fr.dataReserveSize)
		if _, err := io.ReadFull(fr.r, reserve); err != nil {
			return errInvalidDataf(err, "could not read data block %d reserve bytes", fr.blockIdx)
		}
	}
	payload := make([]byte, wd.CBData)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return errInvalidDataf(err, "could not read data block %d payload", fr.blockIdx)
	}

	if ok, computed := verifyBlockChecksum(wd.Checksum, reserve, payload, wd.CBData, wd.CBUncomp); !ok {
		return errInvalidData("data block %d checksum mismatch: expected %#08x, computed %#08x", fr.blockIdx, wd.Checksum, computed)
	}

	var data []byte
	if fr.decomp != nil {
		var err error
		data, err = fr.decomp.decompressBlock(payload, int(wd.CBUncomp))
		if err != nil {
			return errInvalidDataf(err, "could not decompress data block %d", fr.blockIdx)
		}
	} else {
		if wd.CBData != wd.CBUncomp {
			return errInvalidData("data block %d has mismatched compressed/uncompressed sizes %d/%d under no compression", fr.blockIdx, wd.CBData, wd.CBUncomp)
		}
		data = payload
	}

	if fr.blockData != nil {
		fr.cumulativeBefore += uint32(len(fr.blockData))
	}
	fr.blockData = data
	fr.blockOffset = 0
	fr.blockIdx++

	pos, err := fr.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return errInvalidDataf(err, "could not read current stream position")
	}
	fr.nextHeaderOffset = pos
	return nil
}

// Read implements io.Reader over the folder's decompressed content.
func (fr *FolderReader) Read(p []byte) (int, error) {
	if fr.closed {
		return 0, errInvalidInput("read from a closed folder reader")
	}
	for {
		if fr.blockOffset < len(fr.blockData) {
			n := copy(p, fr.blockData[fr.blockOffset:])
			fr.blockOffset += n
			return n, nil
		}
		if fr.blockIdx >= fr.numBlocks {
			return 0, io.EOF
		}
		if err := fr.loadNextBlock(); err != nil {
			return 0, err
		}
	}
}

// currentBlockStart returns the decompressed-stream offset where the
// currently loaded block begins.
func (fr *FolderReader) currentBlockStart() uint32 { return fr.cumulativeBefore }

// seekTo repositions the reader to decompressed-stream offset target,
// resetting to block 0 and replaying forward if target precedes the
// current block.
func (fr *FolderReader) seekTo(target uint32) error {
	if fr.closed {
		return errInvalidInput("seek on a closed folder reader")
	}
	for {
		if fr.blockData != nil {
			start := fr.cumulativeBefore
			end := start + uint32(len(fr.blockData))
			if target >= start && target <= end {
				fr.blockOffset = int(target - start)
				return nil
			}
			if target < start {
				if err := fr.reset(); err != nil {
					return err
				}
				continue
			}
		}
		if fr.blockIdx >= fr.numBlocks {
			return errInvalidInput("seek target %d beyond folder content", target)
		}
		if err := fr.loadNextBlock(); err != nil {
			return err
		}
	}
}

// Close releases the reader's claim on the cabinet's shared underlying
// stream (§5).
func (fr *FolderReader) Close() error {
	if fr.closed {
		return nil
	}
	fr.closed = true
	if fr.onClose != nil {
		fr.onClose()
	}
	return nil
}

// FileReader is a seekable reader over one file's decompressed content,
// clipped to its [start, start+size) range within the owning folder's
// decompressed stream.
type FileReader struct {
	folder     *FolderReader
	start, size uint32
	pos         int64
	positioned  bool
}

// Read implements io.Reader, returning io.EOF once the file's declared
// size has been delivered.
func (f *FileReader) Read(p []byte) (int, error) {
	remaining := int64(f.size) - f.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if !f.positioned {
		if err := f.folder.seekTo(f.start + uint32(f.pos)); err != nil {
			return 0, err
		}
		f.positioned = true
	}
	n, err := f.folder.Read(p)
	f.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker relative to the file's own content, not the
// folder's or cabinet's byte stream.
func (f *FileReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = int64(f.size) + offset
	default:
		return 0, errInvalidInput("invalid whence %d", whence)
	}
	if newPos < 0 || newPos > int64(f.size) {
		return 0, errInvalidInput("seek target %d out of bounds [0,%d]", newPos, f.size)
	}
	f.pos = newPos
	f.positioned = false
	return newPos, nil
}

// Close releases the underlying folder reader.
func (f *FileReader) Close() error { return f.folder.Close() }
