package loaders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// maxInstanceFileName bounds the file names CreateInstance derives from
// instance names.
const maxInstanceFileName = 50

// FindInstance returns the instance object in folder called name that
// describes typeName, or nil when there is none. An empty name matches the
// file named after typeName.
func FindInstance(ctx context.Context, folder *DataFolder, name, typeName string) (*InstanceDataObject, error) {
	f := findInstanceFile(folder.PrimaryFile(), name, typeName)
	if f == nil {
		return nil, nil
	}
	obj, err := folder.sys.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	inst, _ := obj.(*InstanceDataObject)
	return inst, nil
}

// CreateInstance returns the instance object FindInstance would return,
// creating an empty .instance file typed by attribute when there is none.
// Names are hex-escaped into file names; an empty name derives the file
// name from typeName.
func CreateInstance(ctx context.Context, folder *DataFolder, name, typeName string) (*InstanceDataObject, error) {
	if typeName == "" {
		return nil, newLoaderError(ErrNotAllowed, folder.PrimaryFile().Path(), fmt.Errorf("instance type is required"))
	}

	dir := folder.PrimaryFile()
	f := findInstanceFile(dir, name, typeName)
	if f == nil {
		err := dir.FileSystem().RunAtomic(func() error {
			fileName := instanceFileName(name)
			if name == "" {
				fileName = freeName(dir, strings.ReplaceAll(typeName, ".", "-"), []string{InstanceExt})
			}
			created, err := dir.CreateData(fileName, InstanceExt)
			if err != nil {
				return err
			}
			f = created
			if name != "" && UnescapeInstanceName(fileName) != name {
				if err := created.SetAttribute(AttrInstanceName, name); err != nil {
					return err
				}
			}
			return created.SetAttribute(AttrInstanceType, typeName)
		})
		if err != nil {
			return nil, err
		}
	}

	obj, err := folder.sys.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	inst, ok := obj.(*InstanceDataObject)
	if !ok {
		return nil, newLoaderError(ErrInconsistent, f.Path(), fmt.Errorf("recognized by %s", obj.Loader().Name()))
	}
	return inst, nil
}

// RemoveInstance deletes the file FindInstance would match. It reports
// false when there is none.
func RemoveInstance(folder *DataFolder, name, typeName string) (bool, error) {
	f := findInstanceFile(folder.PrimaryFile(), name, typeName)
	if f == nil {
		return false, nil
	}
	lock, err := f.Lock()
	if err != nil {
		return false, err
	}
	defer lock.Release()
	if err := f.Delete(lock); err != nil {
		return false, err
	}
	return true, nil
}

func findInstanceFile(dir *vfs.File, name, typeName string) *vfs.File {
	derived := strings.ReplaceAll(typeName, ".", "-")
	for _, f := range dir.Children() {
		if !f.IsData() || !strings.EqualFold(f.Ext(), InstanceExt) {
			continue
		}
		if name == "" && f.Name() != derived {
			continue
		}
		if name != "" && instanceName(f) != name {
			continue
		}

		desc, err := readInstanceDescriptor(f)
		if err != nil {
			logger.Debug("instance: skipping %s: %v", f.Path(), err)
			continue
		}
		if instanceTypeName(f, desc) == typeName {
			return f
		}
	}
	return nil
}

// instanceName is the name an instance file was created under.
func instanceName(f *vfs.File) string {
	if n := f.StringAttribute(AttrInstanceName); n != "" {
		return n
	}
	return UnescapeInstanceName(f.Name())
}

// EscapeInstanceName hex-escapes the characters of name that are unsafe
// in file names as #XXXX (one UTF-16 unit each). Spaces are escaped only
// when leading, trailing or doubled.
func EscapeInstanceName(name string) string {
	spaces := strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") || strings.Contains(name, "  ")

	var b strings.Builder
	for _, u := range utf16.Encode([]rune(name)) {
		if escapedUnit(u, spaces) {
			fmt.Fprintf(&b, "#%04X", u)
			continue
		}
		b.WriteByte(byte(u))
	}
	return b.String()
}

func escapedUnit(u uint16, spaces bool) bool {
	switch u {
	case '/', '\\', ':', '[', ']', '<', '>', '?', '*', '|', '.', '"', '#':
		return true
	case ' ':
		return spaces
	}
	return u < 0x20 || u > 0x7e
}

// UnescapeInstanceName reverses EscapeInstanceName. A truncated escape
// ends the name; an escape that is not hex is dropped.
func UnescapeInstanceName(s string) string {
	var units []uint16
	for i := 0; i < len(s); {
		if s[i] != '#' {
			r, size := utf8.DecodeRuneInString(s[i:])
			units = utf16.AppendRune(units, r)
			i += size
			continue
		}
		if i+5 > len(s) {
			logger.Debug("instance: trailing garbage in name %q", s)
			break
		}
		if u, err := strconv.ParseUint(s[i+1:i+5], 16, 16); err == nil {
			units = append(units, uint16(u))
		}
		i += 5
	}
	return string(utf16.Decode(units))
}

// instanceFileName escapes name and, when the result is too long, keeps
// both ends around a hash of the whole. Shortened names are recorded in
// AttrInstanceName.
func instanceFileName(name string) string {
	escaped := EscapeInstanceName(name)
	if len(escaped) <= maxInstanceFileName {
		return escaped
	}

	hash := strings.ToUpper(strconv.FormatUint(xxhash.Sum64String(escaped), 16))
	keep := max((maxInstanceFileName-len(hash))/2, 1)
	start := escaped[:keep]
	// a cut escape would swallow the hash digits on unescape
	if i := strings.LastIndexByte(start, '#'); i >= 0 && i >= len(start)-5 {
		start = start[:i]
	}
	return start + hash + escaped[len(escaped)-keep:]
}
