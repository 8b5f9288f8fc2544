package loaders

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/gobwas/glob"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// Names of the built-in loaders.
const (
	FolderLoaderName   = "folder"
	DefaultLoaderName  = "default"
	InstanceLoaderName = "instance"
	ShadowLoaderName   = "shadow"
)

var (
	defaultObjectType = reflect.TypeOf((*DefaultDataObject)(nil))
	folderType        = reflect.TypeOf((*DataFolder)(nil))
)

func lowerExts(exts []string) map[string]bool {
	out := make(map[string]bool, len(exts))
	for _, e := range exts {
		out[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return out
}

// multiObjectStrategy builds plain *MultiDataObject values.
type multiObjectStrategy struct{}

func (multiObjectStrategy) CreateObject(ctx context.Context, sys *System, loader Loader, primary *vfs.File) (DataObject, error) {
	return NewMultiDataObject(sys, loader, primary), nil
}

type extensionStrategy struct {
	multiObjectStrategy
	exts map[string]bool
}

func (s extensionStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file.IsFolder() || !s.exts[strings.ToLower(file.Ext())] {
		return nil
	}
	return file
}

// NewExtensionLoader recognizes data files by extension
// (case-insensitive). Each file is an object of its own.
func NewExtensionLoader(info LoaderInfo, exts ...string) *MultiFileLoader {
	return NewMultiFileLoader(info, multiObjectType, extensionStrategy{exts: lowerExts(exts)})
}

type patternStrategy struct {
	multiObjectStrategy
	patterns []glob.Glob
}

func (s patternStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file.IsFolder() {
		return nil
	}
	for _, g := range s.patterns {
		if g.Match(file.NameExt()) {
			return file
		}
	}
	return nil
}

// NewPatternLoader recognizes data files whose full name matches one of
// the glob patterns.
func NewPatternLoader(info LoaderInfo, patterns ...string) (*MultiFileLoader, error) {
	s := patternStrategy{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q for loader %s: %w", p, info.Name, err)
		}
		s.patterns = append(s.patterns, g)
	}
	return NewMultiFileLoader(info, multiObjectType, s), nil
}

type compositeStrategy struct {
	multiObjectStrategy
	primaryExt string
	secondary  map[string]bool
}

func (s compositeStrategy) OwnsSecondaries() bool { return true }

func (s compositeStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file.IsFolder() {
		return nil
	}
	ext := strings.ToLower(file.Ext())
	if ext == s.primaryExt {
		return file
	}
	if !s.secondary[ext] {
		return nil
	}
	parent := file.Parent()
	if parent == nil {
		return nil
	}
	for _, c := range parent.Children() {
		if c.IsData() && c.Name() == file.Name() && strings.ToLower(c.Ext()) == s.primaryExt {
			return c
		}
	}
	return nil
}

// NewCompositeLoader recognizes files sharing a base name: the file with
// primaryExt is the primary file, siblings with one of secondaryExts are
// its secondary files. A secondary file without its primary is not
// recognized.
func NewCompositeLoader(info LoaderInfo, primaryExt string, secondaryExts ...string) *MultiFileLoader {
	return NewMultiFileLoader(info, multiObjectType, compositeStrategy{
		primaryExt: strings.ToLower(strings.TrimPrefix(primaryExt, ".")),
		secondary:  lowerExts(secondaryExts),
	})
}

type folderStrategy struct{}

func (folderStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if !file.IsFolder() {
		return nil
	}
	return file
}

func (folderStrategy) CreateObject(ctx context.Context, sys *System, loader Loader, primary *vfs.File) (DataObject, error) {
	return &DataFolder{MultiDataObject: NewMultiDataObject(sys, loader, primary)}, nil
}

// NewFolderLoader recognizes every folder as a DataFolder.
func NewFolderLoader() *MultiFileLoader {
	return NewMultiFileLoader(LoaderInfo{Name: FolderLoaderName, DisplayName: "Folders"}, folderType, folderStrategy{})
}

type defaultStrategy struct{}

func (defaultStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file.IsFolder() {
		return nil
	}
	return file
}

func (defaultStrategy) CreateObject(ctx context.Context, sys *System, loader Loader, primary *vfs.File) (DataObject, error) {
	return &DefaultDataObject{MultiDataObject: NewMultiDataObject(sys, loader, primary)}, nil
}

// NewDefaultLoader recognizes any data file.
func NewDefaultLoader() *MultiFileLoader {
	return NewMultiFileLoader(LoaderInfo{Name: DefaultLoaderName, DisplayName: "Files"}, defaultObjectType, defaultStrategy{})
}
