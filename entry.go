package decsync

import "github.com/decsync-go/decsync/internal/model"

// Entry, EntryWithPath, StoredEntry and AppData are the public data model
// They live in internal/model so that internal/engine and
// internal/query can share the exact same types as this façade without an
// import cycle; these aliases are what callers of this module actually use.
type (
	Entry         = model.Entry
	EntryWithPath = model.EntryWithPath
	StoredEntry   = model.StoredEntry
	AppData       = model.AppData
)
