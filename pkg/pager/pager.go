// Package pager manages a fixed-size buffer pool of store pages backed by a
// single file opened for aligned, unbuffered I/O. It is the storage engine
// underneath pkg/kvstore's FileStore.
package pager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kvlog/undolog/pkg/config"
	"github.com/kvlog/undolog/pkg/list"

	directio "github.com/ncw/directio"
)

// PAGESIZE is the size of a single page - one aligned I/O block.
const PAGESIZE = int64(directio.BlockSize)

// NUMPAGES is the number of pages kept resident by the buffer pool.
const NUMPAGES = config.NumPages

// Pager manages pages of data read from and written to a store file.
type Pager struct {
	file         *os.File             // File descriptor.
	maxPageNum   int64                // The number of pages used by this store.
	ptMtx        sync.Mutex           // Page table mutex.
	freeList     *list.List           // Free page list.
	unpinnedList *list.List           // Unpinned page list.
	pinnedList   *list.List           // Pinned page list.
	pageTable    map[int64]*list.Link // Page table.
}

// NewPager constructs a new Pager with an empty, unbacked buffer pool.
func NewPager() *Pager {
	var pager *Pager = &Pager{}
	pager.pageTable = make(map[int64]*list.Link)
	pager.freeList = list.NewList()
	pager.unpinnedList = list.NewList()
	pager.pinnedList = list.NewList()
	frames := directio.AlignedBlock(int(PAGESIZE * NUMPAGES))
	for i := 0; i < NUMPAGES; i++ {
		frame := frames[i*int(PAGESIZE) : (i+1)*int(PAGESIZE)]
		page := Page{
			pager:    pager,
			pagenum:  NOPAGE,
			pinCount: 0,
			dirty:    false,
			data:     &frame,
		}
		pager.freeList.PushTail(&page)
	}
	return pager
}

// HasFile reports whether the pager is backed by disk.
func (pager *Pager) HasFile() bool {
	return pager.file != nil
}

// GetFileName returns the backing file's base name.
func (pager *Pager) GetFileName() string {
	return filepath.Base(pager.file.Name())
}

// GetNumPages returns the number of pages currently in use.
func (pager *Pager) GetNumPages() int64 {
	return pager.maxPageNum
}

// GetFreePN returns the next unused page number.
func (pager *Pager) GetFreePN() int64 {
	return pager.maxPageNum
}

// Open initializes the pager against a given store file, creating it (and
// its parent directories) if it doesn't already exist.
func (pager *Pager) Open(filename string) (err error) {
	if idx := strings.LastIndex(filename, "/"); idx != -1 {
		err = os.MkdirAll(filename[:idx], 0775)
		if err != nil {
			return err
		}
	}
	pager.file, err = directio.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return err
	}
	var info os.FileInfo
	var length int64
	if info, err = pager.file.Stat(); err == nil {
		length = info.Size()
		if length%PAGESIZE != 0 {
			return errors.New("open: store file has been corrupted")
		}
	}
	pager.maxPageNum = length / PAGESIZE
	return nil
}

// Close flushes all dirty pages and closes the backing file.
func (pager *Pager) Close() (err error) {
	pager.ptMtx.Lock()
	if curLink := pager.pinnedList.PeekHead(); curLink != nil {
		fmt.Println("ERROR: pages are still pinned on close")
	}
	pager.FlushAllPages()
	if pager.file != nil {
		err = pager.file.Close()
	}
	pager.ptMtx.Unlock()
	return err
}

// ReadPageFromDisk populates a page's data field given a page number.
func (pager *Pager) ReadPageFromDisk(page *Page, pagenum int64) error {
	if _, err := pager.file.Seek(pagenum*PAGESIZE, 0); err != nil {
		return err
	}
	if _, err := pager.file.Read(*page.data); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// NewPage returns an unused buffer from the free or unpinned list. The
// caller must hold ptMtx.
func (pager *Pager) NewPage(pagenum int64) (*Page, error) {
	var page *Page
	freeHead := pager.freeList.PeekHead()
	unpinnedHead := pager.unpinnedList.PeekHead()

	switch {
	case freeHead != nil:
		freeHead.PopSelf()
		page = freeHead.GetKey().(*Page)
	case !pager.HasFile():
		return nil, errors.New("pager is not backed by disk")
	case unpinnedHead != nil:
		// Evict the LRU unpinned page, flushing it first if dirty.
		unpinnedHead.PopSelf()
		page = unpinnedHead.GetKey().(*Page)
		pager.FlushPage(page)
		delete(pager.pageTable, page.pagenum)
	default:
		return nil, errors.New("no page available to evict")
	}

	page.pagenum = pagenum
	page.pinCount = 1
	page.dirty = false
	return page, nil
}

// GetPage returns the page corresponding to the given page number, reading
// it from disk or allocating it fresh as needed. The returned page is
// pinned; callers must call Put() when done.
func (pager *Pager) GetPage(pagenum int64) (page *Page, err error) {
	if pagenum < 0 {
		return nil, errors.New("invalid page number")
	}
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()

	if node, ok := pager.pageTable[pagenum]; ok {
		page = node.GetKey().(*Page)
		if node.GetList() == pager.unpinnedList {
			node.PopSelf()
			pager.pageTable[pagenum] = pager.pinnedList.PushTail(page)
		}
		page.Get()
		return page, nil
	}

	page, err = pager.NewPage(pagenum)
	if err != nil {
		return nil, err
	}
	if pagenum < pager.maxPageNum {
		if err = pager.ReadPageFromDisk(page, pagenum); err != nil {
			return nil, err
		}
	} else {
		page.dirty = true
		pager.maxPageNum++
	}

	pager.pageTable[pagenum] = pager.pinnedList.PushTail(page)
	return page, nil
}

// FlushPage writes a single dirty page to disk.
func (pager *Pager) FlushPage(page *Page) {
	if page.dirty && pager.HasFile() {
		pager.file.WriteAt(*page.data, page.pagenum*PAGESIZE)
		page.dirty = false
	}
}

// FlushAllPages writes every resident dirty page to disk.
func (pager *Pager) FlushAllPages() {
	for _, v := range pager.pageTable {
		pager.FlushPage(v.GetKey().(*Page))
	}
}

// LockAllUpdates holds the page-table mutex and takes every resident page's
// update lock until UnlockAllUpdates.
func (pager *Pager) LockAllUpdates() {
	pager.ptMtx.Lock()
	for _, page := range pager.pageTable {
		page.GetKey().(*Page).LockUpdates()
	}
}

// UnlockAllUpdates releases the lock taken by LockAllUpdates.
func (pager *Pager) UnlockAllUpdates() {
	for _, page := range pager.pageTable {
		page.GetKey().(*Page).UnlockUpdates()
	}
	pager.ptMtx.Unlock()
}
