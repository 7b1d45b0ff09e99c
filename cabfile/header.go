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

// signatureMSCF is the four-byte magic every cabinet file starts with.
var signatureMSCF = [4]byte{'M', 'S', 'C', 'F'}

const (
	versionMajor uint8 = 1
	versionMinor uint8 = 3
)

// Header flag bits (CFHEADER.flags).
const (
	hdrPrevCabinet    uint16 = 1 << iota // a preceding cabinet exists in this set
	hdrNextCabinet                       // a following cabinet exists in this set
	hdrReservePresent                    // reserve-size fields and header reserve bytes follow
)

// Format-wide limits (§4.1, §4.6).
const (
	MaxFolders        = 65535
	MaxFiles          = 65535
	MaxHeaderReserve  = 60000
	MaxFolderReserve  = 255
	MaxDataBlockSize  = 0x8000
	MaxFileSize       = 0x7FFF8000
	MaxFolderPayload  = (1 << 31) - (1 << 15)
	maxNameLen        = 255 // including the terminating NUL
	dataBlockOverhead = 8   // checksum + compressed size + uncompressed size
)

// File attribute bits (CFFILE.attribs).
const (
	AttrReadOnly  uint16 = 1 << iota // 0x01
	AttrHidden                       // 0x02
	AttrSystem                       // 0x04
	_                                // bit 3 unused
	_                                // bit 4 unused
	AttrArchive                      // 0x20
	AttrExec                         // 0x40
	AttrNameIsUTF                    // 0x80
)

// CompressionType identifies the per-folder compression scheme (§4.1).
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionMSZIP
	CompressionQuantum
	CompressionLZX
)

func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionMSZIP:
		return "mszip"
	case CompressionQuantum:
		return "quantum"
	case CompressionLZX:
		return "lzx"
	default:
		return "unknown"
	}
}

const compressionMask uint16 = 0xf

// CompressionSpec is the decoded form of a folder's 16-bit compression
// bitfield, including the Quantum/LZX sub-fields.
type CompressionSpec struct {
	Type CompressionType

	// QuantumLevel is valid for Type == CompressionQuantum, range [1, 7].
	QuantumLevel uint8
	// QuantumMemory is valid for Type == CompressionQuantum, range [10, 21].
	QuantumMemory uint8
	// LzxWindow is valid for Type == CompressionLZX, one of 15..25.
	LzxWindow uint8
}

// validLzxWindow reports whether w is a valid LZX window exponent (§4.1:
// 15→32 KiB … 25→32 MiB).
func validLzxWindow(w uint8) bool { return w >= 15 && w <= 25 }

// decodeCompressionBitfield parses a folder's on-disk TypeCompress field.
func decodeCompressionBitfield(bits uint16) (CompressionSpec, error) {
	switch scheme := bits & compressionMask; CompressionType(scheme) {
	case CompressionNone:
		return CompressionSpec{Type: CompressionNone}, nil
	case CompressionMSZIP:
		return CompressionSpec{Type: CompressionMSZIP}, nil
	case CompressionQuantum:
		level := uint8((bits >> 4) & 0xf)
		memory := uint8((bits >> 8) & 0x1f)
		if level < 1 || level > 7 {
			return CompressionSpec{}, errInvalidData("quantum compression level %d out of range [1,7]", level)
		}
		if memory < 10 || memory > 21 {
			return CompressionSpec{}, errInvalidData("quantum memory %d out of range [10,21]", memory)
		}
		return CompressionSpec{Type: CompressionQuantum, QuantumLevel: level, QuantumMemory: memory}, nil
	case CompressionLZX:
		window := uint8((bits >> 8) & 0x1f)
		if !validLzxWindow(window) {
			return CompressionSpec{}, errInvalidData("lzx window exponent %d out of range [15,25]", window)
		}
		return CompressionSpec{Type: CompressionLZX, LzxWindow: window}, nil
	default:
		return CompressionSpec{}, errInvalidData("unrecognized compression scheme %d", scheme)
	}
}

// encodeCompressionBitfield produces the on-disk TypeCompress field for a
// folder's declared compression. Only None and MSZIP may be used on write
// (§4.6, §7: Quantum/LZX encode is Unsupported).
func encodeCompressionBitfield(spec CompressionSpec) (uint16, error) {
	switch spec.Type {
	case CompressionNone:
		return uint16(CompressionNone), nil
	case CompressionMSZIP:
		return uint16(CompressionMSZIP), nil
	case CompressionQuantum:
		return 0, errUnsupported("writing Quantum-compressed folders is not supported")
	case CompressionLZX:
		return 0, errUnsupported("writing LZX-compressed folders is not supported")
	default:
		return 0, errInvalidInput("unrecognized compression type %d", spec.Type)
	}
}

// wireHeader is the 36-byte fixed portion of CFHEADER.
type wireHeader struct {
	Signature    [4]byte
	Reserved1    uint32
	CBCabinet    uint32
	Reserved2    uint32
	COFFFiles    uint32
	Reserved3    uint32
	VersionMinor uint8
	VersionMajor uint8
	CFolders     uint16
	CFiles       uint16
	Flags        uint16
	SetID        uint16
	ICabinet     uint16
}

// wireHeaderReserve follows wireHeader when hdrReservePresent is set.
type wireHeaderReserve struct {
	CBCFHeader uint16
	CBCFFolder uint8
	CBCFData   uint8
}

// wireFolder is the fixed 8-byte portion of a CFFOLDER entry.
type wireFolder struct {
	COFFCabStart uint32
	CCFData      uint16
	TypeCompress uint16
}

// wireFile is the fixed 16-byte portion of a CFFILE entry.
type wireFile struct {
	CBFile          uint32
	UOffFolderStart uint32
	IFolder         uint16
	Date            uint16
	Time            uint16
	Attribs         uint16
}

// wireDataBlock is the fixed 8-byte portion of a CFDATA entry.
type wireDataBlock struct {
	Checksum uint32
	CBData   uint16
	CBUncomp uint16
}
