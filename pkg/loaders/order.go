package loaders

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

const (
	// AttrFolderOrder persists the explicit order of a folder as a
	// "/"-separated list of member names with extensions.
	AttrFolderOrder = "dittoloaders.folderOrder"

	// AttrFolderOrderLegacy is the older two-row form: names and
	// extensions in parallel lists. It is read but never written.
	AttrFolderOrderLegacy = "dittoloaders.folderOrderLegacy"

	// AttrSortMode persists the sort mode of a folder as a one-letter code.
	AttrSortMode = "dittoloaders.sortMode"
)

// SortMode selects how the members of a folder without an explicit
// position are ordered.
type SortMode int

const (
	SortNone SortMode = iota
	SortNames
	SortClass
	SortFolderNames
	SortLastModified
	SortSize
	SortExtensions
	SortNatural
)

// DefaultSortMode applies to folders without a persisted mode.
const DefaultSortMode = SortFolderNames

var sortModeCodes = map[SortMode]string{
	SortNone:         "O",
	SortNames:        "N",
	SortClass:        "C",
	SortFolderNames:  "F",
	SortLastModified: "M",
	SortSize:         "S",
	SortExtensions:   "X",
	SortNatural:      "L",
}

var sortModeNames = map[SortMode]string{
	SortNone:         "none",
	SortNames:        "names",
	SortClass:        "class",
	SortFolderNames:  "folder-names",
	SortLastModified: "last-modified",
	SortSize:         "size",
	SortExtensions:   "extensions",
	SortNatural:      "natural",
}

// Code returns the persisted one-letter code.
func (m SortMode) Code() string {
	return sortModeCodes[m]
}

func (m SortMode) String() string {
	if s, ok := sortModeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseSortMode accepts a one-letter code or a mode name.
func ParseSortMode(s string) (SortMode, error) {
	for m, code := range sortModeCodes {
		if strings.EqualFold(s, code) || strings.EqualFold(s, sortModeNames[m]) {
			return m, nil
		}
	}
	return DefaultSortMode, fmt.Errorf("unknown sort mode %q", s)
}

// readSortMode returns the persisted mode of folder; unknown codes fall
// back to the default.
func readSortMode(folder *vfs.File) SortMode {
	code := folder.StringAttribute(AttrSortMode)
	if code == "" {
		return DefaultSortMode
	}
	m, err := ParseSortMode(code)
	if err != nil {
		logger.Debug("ignoring sort mode %q of %s", code, folder.Path())
	}
	return m
}

// readOrder parses the persisted explicit order of folder. It returns the
// member names without duplicates and their positions; both are nil when
// there is no usable order.
func readOrder(folder *vfs.File) ([]string, map[string]int) {
	var names []string
	if v, err := folder.Attribute(AttrFolderOrder); err == nil && v != nil {
		switch order := v.(type) {
		case string:
			for _, n := range strings.Split(order, "/") {
				if n != "" {
					names = append(names, n)
				}
			}
		case []string:
			names = order
		}
	} else if v, err := folder.Attribute(AttrFolderOrderLegacy); err == nil && v != nil {
		if rows, ok := v.([][]string); ok && len(rows) == 2 && len(rows[0]) == len(rows[1]) {
			for i, n := range rows[0] {
				names = append(names, vfs.JoinNameExt(n, rows[1][i]))
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	pos := make(map[string]int, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := pos[n]; !dup {
			pos[n] = len(uniq)
			uniq = append(uniq, n)
		}
	}
	return uniq, pos
}

// FolderOrder is the ordering in effect for one folder: the explicit
// positions overlaid on the sort mode.
type FolderOrder struct {
	folder *vfs.File
	mode   SortMode
	names  []string
	pos    map[string]int
	class  func(DataObject) int
	find   func(*vfs.File) DataObject
	stamp  uint64
}

// Folder returns the ordered folder.
func (o *FolderOrder) Folder() *vfs.File { return o.folder }

// Mode returns the sort mode.
func (o *FolderOrder) Mode() SortMode { return o.mode }

// Explicit returns the explicitly ordered member names.
func (o *FolderOrder) Explicit() []string {
	return slices.Clone(o.names)
}

// Compare orders two members of the folder. Operands may be *vfs.File,
// DataObject or ObjectHolder values, in any combination. Members with an
// explicit position come first, in that order; the rest follow the sort
// mode.
func (o *FolderOrder) Compare(a, b any) int {
	oa, ob := operandOf(a), operandOf(b)
	ia, okA := o.pos[oa.nameExt()]
	ib, okB := o.pos[ob.nameExt()]
	switch {
	case okA && okB:
		if ia != ib {
			return ia - ib
		}
	case okA:
		return -1
	case okB:
		return 1
	}
	if o.mode == SortClass && o.find != nil {
		if oa.obj == nil && oa.file != nil {
			oa.obj = o.find(oa.file)
		}
		if ob.obj == nil && ob.file != nil {
			ob.obj = o.find(ob.file)
		}
	}
	return compareBy(o.mode, oa, ob, o.class)
}

// SortObjects sorts objs in place. Ties keep their relative order.
func (o *FolderOrder) SortObjects(objs []DataObject) {
	slices.SortStableFunc(objs, func(a, b DataObject) int { return o.Compare(a, b) })
}

// SortFiles sorts files in place. Ties keep their relative order.
func (o *FolderOrder) SortFiles(files []*vfs.File) {
	slices.SortStableFunc(files, func(a, b *vfs.File) int { return o.Compare(a, b) })
}

// orderCache keeps up to size recently used folder orders, each costing 1.
// Entries carry the generation they were read at; any persisted order
// change bumps the generation, so an entry computed before the change is
// never served.
type orderCache struct {
	sys   *System
	cache *ristretto.Cache[string, *FolderOrder]
	gen   atomic.Uint64
}

func newOrderCache(sys *System, size int) (*orderCache, error) {
	c := &orderCache{sys: sys}
	if size <= 0 {
		return c, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *FolderOrder]{
		NumCounters:        int64(size) * 10,
		MaxCost:            int64(size),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// get returns the order in effect for folder.
func (c *orderCache) get(folder *vfs.File) *FolderOrder {
	stamp := c.gen.Load()
	if c.cache != nil {
		if o, ok := c.cache.Get(folder.Path()); ok && o.folder == folder && o.stamp == stamp {
			return o
		}
	}

	names, pos := readOrder(folder)
	o := &FolderOrder{
		folder: folder,
		mode:   readSortMode(folder),
		names:  names,
		pos:    pos,
		class:  c.sys.classIndex,
		find:   c.sys.pool.Find,
		stamp:  stamp,
	}
	if c.cache != nil {
		c.cache.Set(folder.Path(), o, 1)
	}
	return o
}

// invalidate drops every cached order.
func (c *orderCache) invalidate() {
	c.gen.Add(1)
}

func (c *orderCache) close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// onEvent invalidates the cache when a persisted order, a sort mode or
// the loader pool changes.
func (c *orderCache) onEvent(ev vfs.Event) {
	switch ev.Kind {
	case vfs.AttributeChanged:
		switch ev.Attribute {
		case AttrFolderOrder, AttrFolderOrderLegacy, AttrSortMode:
			c.invalidate()
		}
	case vfs.Renamed, vfs.Deleted:
		if ev.File.IsFolder() {
			c.invalidate()
		}
	}
}

// SetOrder persists objs as the explicit order of folder in one atomic
// action. Objects outside folder are ignored; a nil or empty list removes
// the explicit order.
func SetOrder(ctx context.Context, folder *vfs.File, objs []DataObject) error {
	names := make([]string, 0, len(objs))
	for _, obj := range objs {
		f := obj.PrimaryFile()
		if f.Parent() != folder {
			continue
		}
		names = append(names, f.NameExt())
	}
	return setOrderNames(folder, names)
}

func setOrderNames(folder *vfs.File, names []string) error {
	return folder.FileSystem().RunAtomic(func() error {
		var v any
		if len(names) > 0 {
			v = strings.Join(names, "/")
		}
		if err := folder.SetAttribute(AttrFolderOrder, v); err != nil {
			return err
		}
		return folder.SetAttribute(AttrFolderOrderLegacy, nil)
	})
}

// SetSortMode persists mode on folder.
func SetSortMode(folder *vfs.File, mode SortMode) error {
	var v any
	if mode != DefaultSortMode {
		v = mode.Code()
	}
	return folder.SetAttribute(AttrSortMode, v)
}
