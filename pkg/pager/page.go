package pager

import "sync"

// NOPAGE marks a page buffer that is not currently bound to any page number.
const NOPAGE = -1

// Page is a single fixed-size buffer managed by a Pager. Pages are pinned
// while in use and unpinned (but kept warm) once released.
type Page struct {
	pager    *Pager
	pagenum  int64
	pinCount int
	dirty    bool
	data     *[]byte

	updateMtx sync.Mutex // held between LockUpdates/UnlockUpdates, e.g. during a checkpoint
}

// GetPageNum returns the page's page number.
func (page *Page) GetPageNum() int64 {
	return page.pagenum
}

// GetData returns the page's backing buffer.
func (page *Page) GetData() *[]byte {
	return page.data
}

// Get pins the page, incrementing its pin count. The pager's ptMtx must be
// held on entry; Pager.GetPage calls this while holding it.
func (page *Page) Get() {
	page.pinCount++
}

// Put unpins the page. Once the pin count reaches zero the page becomes
// eligible for eviction.
func (page *Page) Put() {
	page.pager.ptMtx.Lock()
	defer page.pager.ptMtx.Unlock()
	if page.pinCount == 0 {
		return
	}
	page.pinCount--
	if page.pinCount == 0 {
		if link, ok := page.pager.pageTable[page.pagenum]; ok {
			link.PopSelf()
			page.pager.pageTable[page.pagenum] = page.pager.unpinnedList.PushTail(page)
		}
	}
}

// SetDirty marks the page as dirty, to be flushed on the next FlushPage.
func (page *Page) SetDirty() {
	page.dirty = true
}

// LockUpdates takes this page's update lock until UnlockUpdates.
func (page *Page) LockUpdates() {
	page.updateMtx.Lock()
}

// UnlockUpdates releases the lock taken by LockUpdates.
func (page *Page) UnlockUpdates() {
	page.updateMtx.Unlock()
}
