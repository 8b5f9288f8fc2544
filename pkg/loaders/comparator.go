package loaders

import (
	"cmp"
	"strings"

	"github.com/marmos91/dittoloaders/internal/natsort"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// ObjectHolder is anything that stands for a data object, such as a node.
type ObjectHolder interface {
	Object() DataObject
}

// operand is the common view of the values FolderOrder compares.
type operand struct {
	file *vfs.File
	obj  DataObject
}

func operandOf(v any) operand {
	switch x := v.(type) {
	case *vfs.File:
		return operand{file: x}
	case DataObject:
		return operand{file: x.PrimaryFile(), obj: x}
	case ObjectHolder:
		obj := x.Object()
		if obj == nil {
			return operand{}
		}
		return operand{file: obj.PrimaryFile(), obj: obj}
	default:
		return operand{}
	}
}

func (o operand) nameExt() string {
	if o.file == nil {
		return ""
	}
	return o.file.NameExt()
}

func (o operand) isFolder() bool {
	return o.file != nil && o.file.IsFolder()
}

func compareBy(mode SortMode, a, b operand, class func(DataObject) int) int {
	if a.file == nil || b.file == nil {
		// unknown operands sort last
		return cmp.Compare(boolRank(a.file == nil), boolRank(b.file == nil))
	}

	switch mode {
	case SortNone:
		return 0
	case SortNames:
		return compareNames(a, b)
	case SortClass:
		if c := cmp.Compare(classOf(a, class), classOf(b, class)); c != 0 {
			return c
		}
		return compareNames(a, b)
	case SortLastModified:
		if c := compareFoldersFirst(a, b); c != 0 {
			return c
		}
		// newest first
		if c := b.file.ModTime().Compare(a.file.ModTime()); c != 0 {
			return c
		}
		return compareNames(a, b)
	case SortSize:
		if c := compareFoldersFirst(a, b); c != 0 {
			return c
		}
		// largest first
		if c := cmp.Compare(b.file.Size(), a.file.Size()); c != 0 {
			return c
		}
		return compareNames(a, b)
	case SortExtensions:
		if c := compareFoldersFirst(a, b); c != 0 {
			return c
		}
		if c := strings.Compare(a.file.Ext(), b.file.Ext()); c != 0 {
			return c
		}
		return compareNames(a, b)
	case SortNatural:
		if c := compareFoldersFirst(a, b); c != 0 {
			return c
		}
		return natsort.Compare(a.file.NameExt(), b.file.NameExt())
	default:
		if c := compareFoldersFirst(a, b); c != 0 {
			return c
		}
		return compareNames(a, b)
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func compareFoldersFirst(a, b operand) int {
	return cmp.Compare(boolRank(!a.isFolder()), boolRank(!b.isFolder()))
}

// compareNames orders by name, then by extension.
func compareNames(a, b operand) int {
	if c := strings.Compare(a.file.Name(), b.file.Name()); c != 0 {
		return c
	}
	return strings.Compare(a.file.Ext(), b.file.Ext())
}

func classOf(o operand, class func(DataObject) int) int {
	if o.obj == nil || class == nil {
		return int(^uint(0) >> 1)
	}
	return class(o.obj)
}
