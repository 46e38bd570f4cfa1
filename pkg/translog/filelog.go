package translog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/icza/backscanner"
)

// Record framing constants. Both header and footer carry the body length
// in hex so a length disagreement signals corruption immediately; the
// fixed-width footer is what lets Top find the tip from EOF.
const (
	headerPrefix = "json+len="
	footerPrefix = "json-len="
	headerSize   = 81 // len("json+len=") + 16 hex digits + pad + "\n"
	footerSize   = 82 // "\n" + len("json-len=") + 16 hex digits + pad + "\n"
	padWidth     = 80 - len(headerPrefix) - 16
)

var pad = strings.Repeat(" ", padWidth)

// FileLog is the concrete durable Log: an append-only file of
// length-framed records, addressed by byte offset. Top() locates the tip
// by scanning backward from EOF with icza/backscanner rather than trusting
// a blind fixed-offset seek, so a truncated/corrupt tail is reported as
// corruption rather than silently misparsed.
type FileLog struct {
	file *os.File
}

// OpenFileLog opens (creating if necessary) the log file at path.
func OpenFileLog(path string) (*FileLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	return &FileLog{file: f}, nil
}

// Close closes the backing file.
func (l *FileLog) Close() error {
	return l.file.Close()
}

// Append implements Log.
func (l *FileLog) Append(op Operation) (int64, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return 0, err
	}

	idx, err := l.NextIdx()
	if err != nil {
		return 0, err
	}

	header := fmt.Sprintf("%s%016x%s\n", headerPrefix, len(body), pad)
	footer := fmt.Sprintf("\n%s%016x%s\n", footerPrefix, len(body), pad)

	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return 0, err
	}
	if _, err := l.file.WriteString(header); err != nil {
		return 0, err
	}
	if _, err := l.file.Write(body); err != nil {
		return 0, err
	}
	if _, err := l.file.WriteString(footer); err != nil {
		return 0, err
	}
	if err := l.file.Sync(); err != nil {
		return 0, err
	}
	return idx, nil
}

// Get implements Log.
func (l *FileLog) Get(idx int64) (Operation, error) {
	op, _, err := l.readAt(idx)
	return op, err
}

// readAt reads the record starting at idx and also returns its total framed
// size in bytes (header + body + footer), so callers can step to the next
// record without re-deriving the length.
func (l *FileLog) readAt(idx int64) (Operation, int64, error) {
	if _, err := l.file.Seek(idx, io.SeekStart); err != nil {
		return Operation{}, 0, err
	}
	header := make([]byte, headerSize)
	if _, err := readFull(l.file, header); err != nil {
		return Operation{}, 0, err
	}
	if string(header[:len(headerPrefix)]) != headerPrefix || header[headerSize-1] != '\n' {
		return Operation{}, 0, &ErrCorrupt{Reason: "bad record header"}
	}
	length, err := strconv.ParseInt(string(header[len(headerPrefix):len(headerPrefix)+16]), 16, 64)
	if err != nil {
		return Operation{}, 0, &ErrCorrupt{Reason: "unparsable header length"}
	}

	body := make([]byte, length)
	if _, err := readFull(l.file, body); err != nil {
		return Operation{}, 0, err
	}

	footer := make([]byte, footerSize)
	if _, err := readFull(l.file, footer); err != nil {
		return Operation{}, 0, err
	}
	if string(footer[1:1+len(footerPrefix)]) != footerPrefix || footer[footerSize-1] != '\n' || footer[0] != '\n' {
		return Operation{}, 0, &ErrCorrupt{Reason: "bad record footer"}
	}
	footerLength, err := strconv.ParseInt(string(footer[1+len(footerPrefix):1+len(footerPrefix)+16]), 16, 64)
	if err != nil {
		return Operation{}, 0, &ErrCorrupt{Reason: "unparsable footer length"}
	}
	if footerLength != length {
		return Operation{}, 0, &ErrCorrupt{Reason: "header/footer length mismatch"}
	}

	var op Operation
	if err := json.Unmarshal(body, &op); err != nil {
		return Operation{}, 0, &ErrCorrupt{Reason: "malformed record body: " + err.Error()}
	}
	return op, int64(headerSize) + length + int64(footerSize), nil
}

// Entries implements Log.
func (l *FileLog) Entries() ([]Operation, error) {
	indexed, err := l.IndexedEntries()
	if err != nil {
		return nil, err
	}
	out := make([]Operation, len(indexed))
	for i, e := range indexed {
		out[i] = e.Op
	}
	return out, nil
}

// IndexedEntries implements Log. Indices here are the same byte offsets
// Get expects, unlike a plain slice position.
func (l *FileLog) IndexedEntries() ([]IndexedOp, error) {
	next, err := l.NextIdx()
	if err != nil {
		return nil, err
	}
	var out []IndexedOp
	for idx := int64(0); idx < next; {
		op, consumed, err := l.readAt(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, IndexedOp{Idx: idx, Op: op})
		idx += consumed
	}
	return out, nil
}

// Top implements Log.
func (l *FileLog) Top() (int64, Operation, error) {
	info, err := l.file.Stat()
	if err != nil {
		return 0, Operation{}, err
	}
	size := info.Size()
	if size == 0 {
		return 0, Operation{}, ErrEmpty
	}

	scanner := backscanner.New(l.file, int(size))
	line, _, err := scanner.Line()
	if err == nil && line == "" {
		// A well-formed log ends in "\n", so the first line scanned back
		// from EOF is empty; the footer is the line before it.
		line, _, err = scanner.Line()
	}
	if err != nil {
		return 0, Operation{}, &ErrCorrupt{Reason: "cannot locate tip: " + err.Error()}
	}
	if !strings.HasPrefix(line, footerPrefix) {
		return 0, Operation{}, &ErrCorrupt{Reason: "tip does not end in a well-formed footer"}
	}
	hexLen := strings.TrimPrefix(line, footerPrefix)
	if len(hexLen) < 16 {
		return 0, Operation{}, &ErrCorrupt{Reason: "truncated footer"}
	}
	bodyLen, err := strconv.ParseInt(hexLen[:16], 16, 64)
	if err != nil {
		return 0, Operation{}, &ErrCorrupt{Reason: "unparsable footer length"}
	}

	startIdx := size - int64(headerSize) - bodyLen - int64(footerSize)
	if startIdx < 0 {
		return 0, Operation{}, &ErrCorrupt{Reason: "computed negative record start"}
	}

	op, err := l.Get(startIdx)
	if err != nil {
		return 0, Operation{}, err
	}
	return startIdx, op, nil
}

// NextIdx implements Log.
func (l *FileLog) NextIdx() (int64, error) {
	info, err := l.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, &ErrCorrupt{Reason: "unexpected end of file"}
		}
	}
	return total, nil
}
