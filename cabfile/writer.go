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

	"github.com/klauspost/compress/flate"
)

// flatFile is one file in streaming (folder, then declaration) order.
type flatFile struct {
	folderIdx int
	fb        *FileBuilder
}

type folderResult struct {
	firstBlockOffset uint32
	numDataBlocks    uint16
}

// folderWriteState is the live state of the folder currently accepting
// file bytes.
type folderWriteState struct {
	firstBlockOffset int64
	numDataBlocks    uint16
	compressor       *mszipCompressor // nil under CompressionNone
	pending          []byte
	runningOffset    uint32 // next file's offset-within-folder
}

// CabinetWriter streams file content into a cabinet whose header, folder
// directory, and file directory have already been emitted with
// placeholder forward-reference fields (§4.6).
type CabinetWriter struct {
	sink  io.WriteSeeker
	flat  []flatFile

	headerSizeOffset   int64
	folderEntryOffsets []int64
	fileEntryOffsets   []int64
	dataReserveSize    uint8

	folders []*FolderBuilder

	nextFlatIdx int
	curFolderIdx int
	folderState  *folderWriteState
	folderResults []folderResult
	folderDone    []bool

	finished bool
}

func newCabinetWriter(b *CabinetBuilder, sink io.WriteSeeker, folderReserveSize uint8) (*CabinetWriter, error) {
	if _, err := sink.Seek(0, io.SeekStart); err != nil {
		return nil, errInvalidInput("could not seek sink to the beginning: %v", err)
	}

	reservePresent := len(b.headerReserve) > 0 || folderReserveSize > 0 || b.dataReserveSize > 0
	var flags uint16
	if reservePresent {
		flags |= hdrReservePresent
	}

	totalFiles := 0
	for _, fb := range b.folders {
		totalFiles += len(fb.files)
	}

	wh := wireHeader{
		Signature:    signatureMSCF,
		VersionMinor: versionMinor,
		VersionMajor: versionMajor,
		CFolders:     uint16(len(b.folders)),
		CFiles:       uint16(totalFiles),
		Flags:        flags,
		SetID:        b.setID,
		ICabinet:     b.setIndex,
	}
	if err := binary.Write(sink, binary.LittleEndian, &wh); err != nil {
		return nil, errInvalidInput("could not write header: %v", err)
	}
	// Offsets within the fixed 36-byte wireHeader layout.
	const headerSizeOffset = 8  // CBCabinet
	const headerCoffFilesOffset = 16 // COFFFiles

	if reservePresent {
		rh := wireHeaderReserve{
			CBCFHeader: uint16(len(b.headerReserve)),
			CBCFFolder: folderReserveSize,
			CBCFData:   b.dataReserveSize,
		}
		if err := binary.Write(sink, binary.LittleEndian, &rh); err != nil {
			return nil, errInvalidInput("could not write header reserve sizes: %v", err)
		}
		if len(b.headerReserve) > 0 {
			if _, err := sink.Write(b.headerReserve); err != nil {
				return nil, errInvalidInput("could not write header reserve bytes: %v", err)
			}
		}
	}

	folderEntryOffsets := make([]int64, len(b.folders))
	for i, fb := range b.folders {
		pos, err := sink.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, errInvalidInput("could not read sink position: %v", err)
		}
		folderEntryOffsets[i] = pos

		compBits, err := encodeCompressionBitfield(fb.compression)
		if err != nil {
			return nil, err
		}
		wfl := wireFolder{TypeCompress: compBits}
		if err := binary.Write(sink, binary.LittleEndian, &wfl); err != nil {
			return nil, errInvalidInput("could not write folder entry %d: %v", i, err)
		}
		if folderReserveSize > 0 {
			reserve := make([]byte, folderReserveSize)
			copy(reserve, fb.reserve)
			if _, err := sink.Write(reserve); err != nil {
				return nil, errInvalidInput("could not write folder %d reserve bytes: %v", i, err)
			}
		}
	}

	coffFiles, err := sink.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errInvalidInput("could not read sink position: %v", err)
	}

	var flat []flatFile
	var fileEntryOffsets []int64
	for fi, fb := range b.folders {
		for _, file := range fb.files {
			if len(file.name)+1 > maxNameLen {
				return nil, errInvalidInput("file name %q exceeds %d bytes", file.name, maxNameLen-1)
			}
			pos, err := sink.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, errInvalidInput("could not read sink position: %v", err)
			}
			fileEntryOffsets = append(fileEntryOffsets, pos)

			date, clock := encodeDOSTime(file.modTime)
			wf := wireFile{
				IFolder: uint16(fi),
				Date:    date,
				Time:    clock,
				Attribs: file.attributes,
			}
			if err := binary.Write(sink, binary.LittleEndian, &wf); err != nil {
				return nil, errInvalidInput("could not write file entry: %v", err)
			}
			if err := writeCString(sink, file.name); err != nil {
				return nil, errInvalidInput("could not write file name: %v", err)
			}
			flat = append(flat, flatFile{folderIdx: fi, fb: file})
		}
	}

	if err := patchUint32(sink, headerCoffFilesOffset, uint32(coffFiles)); err != nil {
		return nil, errInvalidInput("could not patch first file offset: %v", err)
	}

	return &CabinetWriter{
		sink:               sink,
		flat:               flat,
		headerSizeOffset:   headerSizeOffset,
		folderEntryOffsets: folderEntryOffsets,
		fileEntryOffsets:   fileEntryOffsets,
		dataReserveSize:    b.dataReserveSize,
		folders:            b.folders,
		curFolderIdx:       -1,
		folderResults:      make([]folderResult, len(b.folders)),
		folderDone:         make([]bool, len(b.folders)),
	}, nil
}

func writeCString(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

func patchUint32(w io.WriteSeeker, offset int64, v uint32) error {
	cur, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err = w.Seek(cur, io.SeekStart)
	return err
}

func patchUint16(w io.WriteSeeker, offset int64, v uint16) error {
	cur, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := w.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err = w.Seek(cur, io.SeekStart)
	return err
}

// NextFile returns a writer for the next file in declaration order. It
// returns io.EOF once every declared file has been returned. Each
// FileWriter must be closed before the next one is requested.
func (cw *CabinetWriter) NextFile() (*FileWriter, error) {
	if cw.finished {
		return nil, errInvalidInput("cabinet writer has already been finished")
	}
	if cw.nextFlatIdx >= len(cw.flat) {
		return nil, io.EOF
	}
	ff := cw.flat[cw.nextFlatIdx]
	if cw.folderState == nil || cw.curFolderIdx != ff.folderIdx {
		if cw.folderState != nil {
			if err := cw.finishFolder(); err != nil {
				return nil, err
			}
		}
		if err := cw.startFolder(ff.folderIdx); err != nil {
			return nil, err
		}
	}
	fw := &FileWriter{
		cw:             cw,
		folder:         cw.folderState,
		entryOffset:    cw.fileEntryOffsets[cw.nextFlatIdx],
		offsetInFolder: cw.folderState.runningOffset,
	}
	cw.nextFlatIdx++
	return fw, nil
}

func (cw *CabinetWriter) startFolder(idx int) error {
	pos, err := cw.sink.Seek(0, io.SeekCurrent)
	if err != nil {
		return errInvalidInput("could not read sink position: %v", err)
	}
	spec := cw.folders[idx].compression
	var comp *mszipCompressor
	switch spec.Type {
	case CompressionNone:
	case CompressionMSZIP:
		comp, err = newMSZIPCompressor(flate.DefaultCompression)
		if err != nil {
			return err
		}
	default:
		return errUnsupported("folder %d declares unsupported write compression %s", idx, spec.Type)
	}
	cw.folderState = &folderWriteState{firstBlockOffset: pos, compressor: comp}
	cw.curFolderIdx = idx
	return nil
}

func (cw *CabinetWriter) finishFolder() error {
	fs := cw.folderState
	if len(fs.pending) > 0 {
		if err := cw.flushBlock(fs, true); err != nil {
			return err
		}
	}
	cw.folderResults[cw.curFolderIdx] = folderResult{
		firstBlockOffset: uint32(fs.firstBlockOffset),
		numDataBlocks:    fs.numDataBlocks,
	}
	cw.folderDone[cw.curFolderIdx] = true
	cw.folderState = nil
	cw.curFolderIdx = -1
	return nil
}

// flushBlock compresses (or stores) fs.pending as one data block, writes
// its on-disk header and payload, and clears the buffer.
func (cw *CabinetWriter) flushBlock(fs *folderWriteState, final bool) error {
	uncompSize := uint16(len(fs.pending))
	var framed []byte
	var err error
	if fs.compressor != nil {
		framed, err = fs.compressor.compressBlock(fs.pending, final)
		if err != nil {
			return err
		}
	} else {
		framed = fs.pending
	}
	if len(framed) > 0xFFFF {
		return errInvalidData("compressed data block size %d exceeds the 16-bit field", len(framed))
	}

	reserve := make([]byte, cw.dataReserveSize)
	checksum := encodeBlockChecksum(reserve, framed, uint16(len(framed)), uncompSize)

	wd := wireDataBlock{Checksum: checksum, CBData: uint16(len(framed)), CBUncomp: uncompSize}
	if err := binary.Write(cw.sink, binary.LittleEndian, &wd); err != nil {
		return errInvalidInput("could not write data block header: %v", err)
	}
	if len(reserve) > 0 {
		if _, err := cw.sink.Write(reserve); err != nil {
			return errInvalidInput("could not write data block reserve bytes: %v", err)
		}
	}
	if _, err := cw.sink.Write(framed); err != nil {
		return errInvalidInput("could not write data block payload: %v", err)
	}

	fs.numDataBlocks++
	fs.pending = fs.pending[:0]
	return nil
}

// Finish flushes any buffered data, then seeks back and patches the
// remaining forward-reference fields: folder first-block-offsets/block-counts
// and the header's total cabinet size. File sizes/offsets are not patched
// here; FileWriter.Close patches them, so a file whose writer was never
// closed keeps its zero placeholders.
func (cw *CabinetWriter) Finish() (io.WriteSeeker, error) {
	if cw.finished {
		return cw.sink, nil
	}
	if cw.folderState != nil {
		if err := cw.finishFolder(); err != nil {
			return nil, err
		}
	}

	endPos, err := cw.sink.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errInvalidInput("could not seek to end of sink: %v", err)
	}
	for i, done := range cw.folderDone {
		if !done {
			// A folder with no files declared for it has no data blocks;
			// its first-block-offset is never dereferenced by a reader.
			cw.folderResults[i] = folderResult{firstBlockOffset: uint32(endPos), numDataBlocks: 0}
		}
	}
	for i, res := range cw.folderResults {
		off := cw.folderEntryOffsets[i]
		if err := patchUint32(cw.sink, off, res.firstBlockOffset); err != nil {
			return nil, errInvalidInput("could not patch folder %d entry: %v", i, err)
		}
		if err := patchUint16(cw.sink, off+4, res.numDataBlocks); err != nil {
			return nil, errInvalidInput("could not patch folder %d entry: %v", i, err)
		}
	}

	if endPos > 0x7FFFFFFF {
		return nil, errInvalidInput("cabinet size %d exceeds the maximum of 0x7FFFFFFF", endPos)
	}
	if err := patchUint32(cw.sink, cw.headerSizeOffset, uint32(endPos)); err != nil {
		return nil, errInvalidInput("could not patch total cabinet size: %v", err)
	}
	if _, err := cw.sink.Seek(endPos, io.SeekStart); err != nil {
		return nil, errInvalidInput("could not restore sink position: %v", err)
	}

	cw.finished = true
	return cw.sink, nil
}

// FileWriter streams one file's uncompressed content into its folder's
// block buffer, splitting at MaxDataBlockSize bytes (§4.6).
type FileWriter struct {
	cw             *CabinetWriter
	folder         *folderWriteState
	entryOffset    int64
	offsetInFolder uint32
	written        uint32
	closed         bool
}

// Write implements io.Writer. Writes beyond MaxFileSize fail.
func (fw *FileWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, errInvalidInput("write to a closed file writer")
	}
	total := 0
	for len(p) > 0 {
		if uint64(fw.written)+uint64(len(p)) > MaxFileSize {
			return total, errInvalidInput("file size exceeds the maximum of %d bytes", MaxFileSize)
		}
		fs := fw.folder
		room := MaxDataBlockSize - len(fs.pending)
		n := len(p)
		if n > room {
			n = room
		}
		fs.pending = append(fs.pending, p[:n]...)
		p = p[n:]
		fw.written += uint32(n)
		total += n
		if len(fs.pending) == MaxDataBlockSize {
			if err := fw.cw.flushBlock(fs, false); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Close patches this file's directory entry (uncompressed size and
// offset-within-folder) and advances the folder's running offset cursor
// for the next file. It rejects a file whose end would push the folder's
// cumulative payload past MaxFolderPayload.
func (fw *FileWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true
	if total := uint64(fw.offsetInFolder) + uint64(fw.written); total > MaxFolderPayload {
		return errInvalidInput("folder payload of %d bytes exceeds the maximum of %d", total, MaxFolderPayload)
	}
	if err := patchUint32(fw.cw.sink, fw.entryOffset, fw.written); err != nil {
		return errInvalidInput("could not patch file entry size: %v", err)
	}
	if err := patchUint32(fw.cw.sink, fw.entryOffset+4, fw.offsetInFolder); err != nil {
		return errInvalidInput("could not patch file entry offset: %v", err)
	}
	fw.folder.runningOffset += fw.written
	return nil
}
