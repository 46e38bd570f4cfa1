// Package config holds the tuning constants shared by the storage layer.
package config

// NumPages is the number of store pages the pager keeps resident before it
// starts evicting to make room for new ones.
const NumPages = 64

// PageSize is the size, in bytes, of a single store page. It matches the
// aligned block size the pager's backing file is opened with.
const PageSize = 4096
