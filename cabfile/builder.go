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
	"io"
	"time"
)

// CabinetBuilder accumulates the declared structure of a cabinet (folders,
// and within them files) before any bytes are written (§4.6's declaration
// phase). Build validates the declaration and begins streaming emission.
type CabinetBuilder struct {
	folders         []*FolderBuilder
	headerReserve   []byte
	dataReserveSize uint8
	setID, setIndex uint16
}

// NewCabinetBuilder returns an empty builder.
func NewCabinetBuilder() *CabinetBuilder {
	return &CabinetBuilder{}
}

// SetHeaderReserve attaches application-defined bytes to the cabinet
// header. Must be at most MaxHeaderReserve bytes.
func (b *CabinetBuilder) SetHeaderReserve(data []byte) *CabinetBuilder {
	b.headerReserve = data
	return b
}

// SetDataReserveSize declares how many zero-filled reserve bytes follow
// every data block's header (§6.1's data_reserve_size; Open Question
// decision in DESIGN.md extends the teacher's read-only, zero-only
// handling to a caller-controllable size on write).
func (b *CabinetBuilder) SetDataReserveSize(n uint8) *CabinetBuilder {
	b.dataReserveSize = n
	return b
}

// SetID sets the application tag shared by every cabinet in a multi-volume
// set.
func (b *CabinetBuilder) SetID(id uint16) *CabinetBuilder {
	b.setID = id
	return b
}

// SetIndex sets this cabinet's position within its set.
func (b *CabinetBuilder) SetIndex(idx uint16) *CabinetBuilder {
	b.setIndex = idx
	return b
}

// AddFolder declares a new folder with the given compression scheme and
// returns a builder for adding files to it. Folders are written in the
// order they are added.
func (b *CabinetBuilder) AddFolder(compression CompressionSpec) *FolderBuilder {
	fb := &FolderBuilder{compression: compression}
	b.folders = append(b.folders, fb)
	return fb
}

// FolderBuilder declares one folder's compression and reserve bytes, and
// the files it contains.
type FolderBuilder struct {
	compression CompressionSpec
	reserve     []byte
	files       []*FileBuilder
}

// SetReserve attaches application-defined reserve bytes to this folder's
// directory entry. Must be at most MaxFolderReserve bytes; on write, every
// folder's reserve is zero-padded to the longest reserve declared across
// all folders in the cabinet (§4.6 step 3).
func (fb *FolderBuilder) SetReserve(data []byte) *FolderBuilder {
	fb.reserve = data
	return fb
}

// AddFile declares a new file within this folder, in streaming order. By
// default Attributes has ARCHIVE set (and NAME_IS_UTF set iff name
// contains a byte above 0x7F), and ModTime is the current UTC wall clock.
func (fb *FolderBuilder) AddFile(name string) *FileBuilder {
	attrs := AttrArchive
	if nameNeedsUTFFlag(name) {
		attrs |= AttrNameIsUTF
	}
	file := &FileBuilder{name: name, attributes: attrs, modTime: time.Now().UTC()}
	fb.files = append(fb.files, file)
	return file
}

func nameNeedsUTFFlag(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] > 0x7F {
			return true
		}
	}
	return false
}

// FileBuilder declares one file's metadata. Its content is supplied later,
// by writing to the FileWriter that CabinetWriter.NextFile returns for it.
type FileBuilder struct {
	name       string
	attributes uint16
	modTime    time.Time
}

// SetAttributes overrides the default attribute bits.
func (f *FileBuilder) SetAttributes(attrs uint16) *FileBuilder {
	f.attributes = attrs
	return f
}

// SetModTime overrides the default modification time.
func (f *FileBuilder) SetModTime(t time.Time) *FileBuilder {
	f.modTime = t
	return f
}

// Build validates the declaration against §4.6's limits, emits the header
// phase (header, folder directory, file directory, all with placeholder
// forward-reference fields) to sink, and returns a CabinetWriter ready to
// stream file content via NextFile.
func (b *CabinetBuilder) Build(sink io.WriteSeeker) (*CabinetWriter, error) {
	if len(b.folders) > MaxFolders {
		return nil, errInvalidInput("folder count %d exceeds the maximum of %d", len(b.folders), MaxFolders)
	}
	if len(b.headerReserve) > MaxHeaderReserve {
		return nil, errInvalidInput("header reserve size %d exceeds the maximum of %d", len(b.headerReserve), MaxHeaderReserve)
	}
	totalFiles := 0
	maxFolderReserve := 0
	for _, fb := range b.folders {
		if len(fb.reserve) > MaxFolderReserve {
			return nil, errInvalidInput("folder reserve size %d exceeds the maximum of %d", len(fb.reserve), MaxFolderReserve)
		}
		if len(fb.reserve) > maxFolderReserve {
			maxFolderReserve = len(fb.reserve)
		}
		totalFiles += len(fb.files)
	}
	if totalFiles > MaxFiles {
		return nil, errInvalidInput("file count %d exceeds the maximum of %d", totalFiles, MaxFiles)
	}

	return newCabinetWriter(b, sink, uint8(maxFolderReserve))
}
