// Package loaders maps files of a vfs.FileSystem onto typed, observable
// data objects.
//
// Loaders race, in the order computed by the LoaderPool, to claim files.
// The ObjectPool guarantees at most one live DataObject per primary file;
// composite (multi-file) objects own secondary entries in the same folder.
// Folder contents are exposed as ordered object lists kept in sync with
// filesystem events, and shadows (links to other files) repair themselves
// when their target appears.
package loaders

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// Loader is a named recognition strategy.
//
// Loaders are stateless across files and may be consulted concurrently.
type Loader interface {
	// Name identifies the loader in registries and persisted assignments.
	Name() string

	// DisplayName is a human-readable name.
	DisplayName() string

	// Module names the module contributing the loader ("" for built-ins).
	Module() string

	// RepresentationType is the type of the objects this loader produces.
	RepresentationType() reflect.Type

	// Actions returns the ordered action identifiers of the loader.
	Actions() []string

	// SetActions replaces the action list.
	SetActions(actions []string)

	// ActionsContext names the configuration folder the action list is
	// persisted in (Loaders/<context>/Actions).
	ActionsContext() string

	// FindPrimaryFile returns the primary file of the object this loader
	// would build for file, or nil if it does not recognize file.
	FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File

	// FindDataObject recognizes file. It returns (nil, nil) for files it
	// does not recognize and an *ExistsError carrying the existing object
	// when it refuses to take over a file owned by another object.
	FindDataObject(ctx context.Context, sys *System, file *vfs.File, recognized *RecognizedSet) (DataObject, error)
}

// LoaderInfo carries the descriptive part of a loader.
type LoaderInfo struct {
	Name           string
	DisplayName    string
	Module         string
	ActionsContext string
	Actions        []string
}

// baseLoader implements the descriptive part of Loader.
type baseLoader struct {
	info LoaderInfo
	rep  reflect.Type

	mu      sync.RWMutex
	actions []string
}

func newBaseLoader(info LoaderInfo, rep reflect.Type) baseLoader {
	if info.DisplayName == "" {
		info.DisplayName = info.Name
	}
	if info.ActionsContext == "" {
		info.ActionsContext = info.Name
	}
	return baseLoader{info: info, rep: rep, actions: slices.Clone(info.Actions)}
}

func (l *baseLoader) Name() string                     { return l.info.Name }
func (l *baseLoader) DisplayName() string              { return l.info.DisplayName }
func (l *baseLoader) Module() string                   { return l.info.Module }
func (l *baseLoader) ActionsContext() string           { return l.info.ActionsContext }
func (l *baseLoader) RepresentationType() reflect.Type { return l.rep }

func (l *baseLoader) Actions() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.actions)
}

func (l *baseLoader) SetActions(actions []string) {
	l.mu.Lock()
	l.actions = slices.Clone(actions)
	l.mu.Unlock()
}

var (
	dataObjectType  = reflect.TypeOf((*DataObject)(nil)).Elem()
	multiObjectType = reflect.TypeOf((*MultiDataObject)(nil))
)

// isGenericType reports whether t is too general to group objects by.
func isGenericType(t reflect.Type) bool {
	return t == nil || t == dataObjectType || t == multiObjectType
}

// produces reports whether l makes objects that are at least of type t.
func produces(l Loader, t reflect.Type) bool {
	rep := l.RepresentationType()
	return rep != nil && rep.AssignableTo(t)
}
