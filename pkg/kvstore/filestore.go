package kvstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/kvlog/undolog/pkg/pager"
)

// lengthHeaderSize is the width, in bytes, of the payload-length header
// written at the front of page 0.
const lengthHeaderSize = 8

// FileStore is a durable Store backed by a paged file. The key/value map is
// serialized to JSON and chunked across fixed-size pages managed by a
// pager.Pager, reusing its buffer-pool/eviction machinery verbatim.
type FileStore struct {
	pager *pager.Pager
	d     map[string]interface{}
}

// OpenFileStore opens (creating if necessary) a paged store file at path and
// loads its current contents into memory.
func OpenFileStore(path string) (*FileStore, error) {
	p := pager.NewPager()
	if err := p.Open(path); err != nil {
		return nil, err
	}
	fs := &FileStore{pager: p, d: make(map[string]interface{})}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Close flushes and releases the store's backing pages.
func (fs *FileStore) Close() error {
	return fs.pager.Close()
}

func (fs *FileStore) load() error {
	if fs.pager.GetNumPages() == 0 {
		fs.d = make(map[string]interface{})
		return nil
	}

	header, err := fs.pager.GetPage(0)
	if err != nil {
		return err
	}
	length := binary.BigEndian.Uint64((*header.GetData())[:lengthHeaderSize])
	header.Put()

	if length == 0 {
		fs.d = make(map[string]interface{})
		return nil
	}

	buf := make([]byte, 0, length)
	remaining := int64(length)
	pagenum := int64(0)
	for remaining > 0 {
		page, err := fs.pager.GetPage(pagenum)
		if err != nil {
			return err
		}
		data := *page.GetData()
		chunk := data
		if pagenum == 0 {
			chunk = data[lengthHeaderSize:]
		}
		take := int64(len(chunk))
		if take > remaining {
			take = remaining
		}
		buf = append(buf, chunk[:take]...)
		remaining -= take
		page.Put()
		pagenum++
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf, &decoded); err != nil {
		return fmt.Errorf("store file is corrupt: %w", err)
	}
	fs.d = decoded
	return nil
}

// persist rewrites the whole store file from fs.d, atomically from the
// caller's perspective: every touched page is marked dirty and flushed in
// one FlushAllPages call before persist returns.
func (fs *FileStore) persist() error {
	body, err := json.Marshal(fs.d)
	if err != nil {
		return err
	}

	header := make([]byte, lengthHeaderSize)
	binary.BigEndian.PutUint64(header, uint64(len(body)))
	payload := append(header, body...)

	// Pages are unpinned as soon as they are written so a payload larger
	// than the buffer pool doesn't exhaust it; an unpinned dirty page that
	// gets evicted mid-loop is simply flushed early.
	pagenum := int64(0)
	offset := 0
	for offset < len(payload) {
		page, err := fs.pager.GetPage(pagenum)
		if err != nil {
			return err
		}
		data := *page.GetData()
		n := copy(data, payload[offset:])
		for i := n; i < len(data); i++ {
			data[i] = 0
		}
		page.SetDirty()
		page.Put()
		offset += n
		pagenum++
	}

	fs.pager.FlushAllPages()
	return nil
}

// Get implements Store.
func (fs *FileStore) Get(key string) (interface{}, bool) {
	v, ok := fs.d[key]
	return v, ok
}

// Apply implements Store.
func (fs *FileStore) Apply(changes ChangeSet) error {
	for k, c := range changes {
		if cur, ok := fs.d[k]; !sameValue(cur, ok, c.Old) {
			return &ErrOutOfSync{Key: k, Wanted: c.Old, Current: cur}
		}
	}
	for k, c := range changes {
		setOrDelete(fs.d, k, c.New)
	}
	return fs.persist()
}

// Rollback implements Store.
func (fs *FileStore) Rollback(changes ChangeSet) error {
	for k, c := range changes {
		cur, ok := fs.d[k]
		switch {
		case sameValue(cur, ok, c.New):
			setOrDelete(fs.d, k, c.Old)
		case sameValue(cur, ok, c.Old):
			// already rolled back
		default:
			return &ErrOutOfSync{Key: k, Wanted: c.New, Current: cur}
		}
	}
	return fs.persist()
}
