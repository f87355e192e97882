// Package pccc implements the legacy SLC-500/PLC-5 client: the data
// table address grammar and the DF1/PCCC command set tunnelled inside
// CIP Execute-PCCC requests.
package pccc

import (
	"regexp"
	"strconv"
	"strings"

	"ablink/cip"
)

// DF1 function codes (protected typed logical read/write with three
// address fields).
const (
	FuncRead  byte = 0xA2
	FuncWrite byte = 0xAB
)

// Timer/counter sub-element codes. PRE and ACC address whole words;
// the rest are control bits at fixed positions.
const (
	SubPRE byte = 1
	SubACC byte = 2
	SubUA  byte = 10
	SubUN  byte = 11
	SubOV  byte = 12
	SubDN  byte = 13
	SubTT  byte = 14
	SubCD  byte = 14
	SubEN  byte = 15
	SubCU  byte = 15
)

var ctSubElements = map[string]byte{
	"PRE": SubPRE,
	"ACC": SubACC,
	"EN":  SubEN,
	"TT":  SubTT,
	"DN":  SubDN,
	"CU":  SubCU,
	"CD":  SubCD,
	"OV":  SubOV,
	"UN":  SubUN,
	"UA":  SubUA,
}

// fileTypeCodes maps the file-type letter to its PCCC data type byte.
var fileTypeCodes = map[string]byte{
	"N":  0x89,
	"B":  0x85,
	"T":  0x86,
	"C":  0x87,
	"S":  0x84,
	"F":  0x8A,
	"ST": 0x8D,
	"A":  0x8E,
	"R":  0x88,
	"O":  0x8B,
	"I":  0x8C,
}

// fileTypeSizes maps the file-type letter to its element size in bytes.
var fileTypeSizes = map[string]int{
	"N":  2,
	"B":  2,
	"T":  6,
	"C":  6,
	"S":  2,
	"F":  4,
	"ST": 84,
	"A":  2,
	"R":  6,
	"O":  2,
	"I":  2,
}

// FileAddress is a parsed data table address.
type FileAddress struct {
	Raw        string
	FileType   string // file type letter ("N", "F", "T", ...)
	FileNumber byte
	Element    byte
	SubElement byte
	HasSub     bool // a bit or named sub-element was addressed
	AddrField  int  // 2 or 3 address fields on the wire
}

// TypeCode returns the PCCC data type byte for the address.
func (a *FileAddress) TypeCode() byte {
	return fileTypeCodes[a.FileType]
}

// ElementSize returns the element size in bytes for the address.
func (a *FileAddress) ElementSize() int {
	return fileTypeSizes[a.FileType]
}

// The grammar is five patterns, tried in order:
//
//	CT<n>:<e>.<sub>     timer/counter word or control bit
//	[FBN]<n>:<e>[/bit]  float/bit/integer files
//	[IO]:<n>.<e>[/bit]  input/output images
//	S:<e>[/bit]         status file (file number always 2)
//	B<n>/<bitflat>      bit file flat addressing
var (
	reTimerCounter = regexp.MustCompile(`(?i)^(?P<ft>[CT])(?P<fn>\d{1,3}):(?P<el>\d{1,3})\.(?P<sub>ACC|PRE|EN|DN|TT|CU|CD|OV|UN|UA)$`)
	reDataFile     = regexp.MustCompile(`(?i)^(?P<ft>[FBN])(?P<fn>\d{1,3}):(?P<el>\d{1,3})(/(?P<sub>\d{1,2}))?$`)
	reIOFile       = regexp.MustCompile(`(?i)^(?P<ft>[IO]):(?P<fn>\d{1,3})\.(?P<el>\d{1,3})(/(?P<sub>\d{1,2}))?$`)
	reStatusFile   = regexp.MustCompile(`(?i)^(?P<ft>S):(?P<el>\d{1,3})(/(?P<sub>\d{1,2}))?$`)
	reFlatBit      = regexp.MustCompile(`(?i)^(?P<ft>B)(?P<fn>\d{1,3})/(?P<el>\d{1,4})$`)
)

// ParseAddress parses a data table address. Unparseable or
// out-of-range addresses are a data error.
func ParseAddress(addr string) (*FileAddress, error) {
	if m := match(reTimerCounter, addr); m != nil {
		fn, el := atoi(m["fn"]), atoi(m["el"])
		if fn < 1 || fn > 255 || el > 255 {
			return nil, badAddress(addr)
		}
		return &FileAddress{
			Raw:        addr,
			FileType:   strings.ToUpper(m["ft"]),
			FileNumber: byte(fn),
			Element:    byte(el),
			SubElement: ctSubElements[strings.ToUpper(m["sub"])],
			HasSub:     true,
			AddrField:  3,
		}, nil
	}

	if m := match(reDataFile, addr); m != nil {
		fn, el := atoi(m["fn"]), atoi(m["el"])
		if fn < 1 || fn > 255 || el > 255 {
			return nil, badAddress(addr)
		}
		return subElementAddress(addr, strings.ToUpper(m["ft"]), byte(fn), byte(el), m["sub"])
	}

	if m := match(reIOFile, addr); m != nil {
		fn, el := atoi(m["fn"]), atoi(m["el"])
		if fn > 255 || el > 255 {
			return nil, badAddress(addr)
		}
		return subElementAddress(addr, strings.ToUpper(m["ft"]), byte(fn), byte(el), m["sub"])
	}

	if m := match(reStatusFile, addr); m != nil {
		el := atoi(m["el"])
		if el > 255 {
			return nil, badAddress(addr)
		}
		// The status file is always file number 2.
		return subElementAddress(addr, "S", 2, byte(el), m["sub"])
	}

	if m := match(reFlatBit, addr); m != nil {
		fn, bit := atoi(m["fn"]), atoi(m["el"])
		if fn < 1 || fn > 255 || bit > 4095 {
			return nil, badAddress(addr)
		}
		// Flat bit addressing: element and sub-element re-derived from
		// the bit number.
		return &FileAddress{
			Raw:        addr,
			FileType:   "B",
			FileNumber: byte(fn),
			Element:    byte(bit / 16),
			SubElement: byte(bit % 16),
			HasSub:     true,
			AddrField:  3,
		}, nil
	}

	return nil, badAddress(addr)
}

func subElementAddress(addr, fileType string, fileNumber, element byte, sub string) (*FileAddress, error) {
	fa := &FileAddress{
		Raw:        addr,
		FileType:   fileType,
		FileNumber: fileNumber,
		Element:    element,
		AddrField:  2,
	}
	if sub != "" {
		bit := atoi(sub)
		if bit > 15 {
			return nil, badAddress(addr)
		}
		fa.SubElement = byte(bit)
		fa.HasSub = true
		fa.AddrField = 3
	}
	return fa, nil
}

func match(re *regexp.Regexp, s string) map[string]string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	out := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" {
			out[name] = m[i]
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func badAddress(addr string) error {
	return cip.DataErrorf("ParseAddress", "cannot parse data table address %q", addr)
}
