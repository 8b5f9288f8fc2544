package loaders

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	InstanceExt = "instance"
	SettingsExt = "settings"

	// AttrInstanceType names the instance type when the descriptor does not.
	AttrInstanceType = "instanceClass"

	// AttrInstanceName holds the name of an instance whose file name had
	// to be shortened.
	AttrInstanceName = "instanceName"
)

// InstanceType is a named factory for values described by instance files.
type InstanceType struct {
	Name string

	// New returns a pointer to a fresh zero value; descriptor properties
	// are decoded into it.
	New func() any
}

// InstanceCookie is exposed by instance objects whose type resolves.
type InstanceCookie interface {
	TypeName() string
	Instance(ctx context.Context) (any, error)
	InstanceOf(t reflect.Type) bool
}

// instanceDescriptor is the YAML content of .instance and .settings files.
type instanceDescriptor struct {
	Type       string         `yaml:"type,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

var instanceObjectType = reflect.TypeOf((*InstanceDataObject)(nil))

// InstanceDataObject is a declarative description of a value: a type name
// plus properties. An object whose type cannot be resolved is broken: it
// exists and can be copied or deleted, but exposes no InstanceCookie.
type InstanceDataObject struct {
	*MultiDataObject

	mu       sync.Mutex
	typeName string
	props    map[string]any
	loadedAt time.Time
	broken   error
	value    any
}

func newInstanceDataObject(sys *System, loader Loader, primary *vfs.File) *InstanceDataObject {
	o := &InstanceDataObject{MultiDataObject: NewMultiDataObject(sys, loader, primary)}
	o.mu.Lock()
	o.loadLocked()
	broken := o.broken
	o.mu.Unlock()
	o.syncCookie(broken)
	return o
}

// loadLocked reads the descriptor and resolves the type name.
func (o *InstanceDataObject) loadLocked() {
	f := o.PrimaryFile()
	o.loadedAt = f.ModTime()
	o.value = nil
	o.broken = nil

	desc, err := readInstanceDescriptor(f)
	if err != nil {
		o.broken = err
		return
	}
	o.typeName = instanceTypeName(f, desc)
	o.props = desc.Properties
	if _, ok := o.sys.instances.Get(o.typeName); !ok {
		o.broken = newLoaderError(ErrClassResolution, f.Path(), fmt.Errorf("unknown instance type %q", o.typeName))
	}
}

func readInstanceDescriptor(f *vfs.File) (instanceDescriptor, error) {
	var desc instanceDescriptor
	data, err := f.Read()
	if err != nil {
		return desc, newLoaderError(ErrIO, f.Path(), err)
	}
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return desc, newLoaderError(ErrIO, f.Path(), fmt.Errorf("invalid descriptor: %w", err))
	}
	return desc, nil
}

// instanceTypeName picks the descriptor type, then the type attribute,
// then the file name with dashes read as dots.
func instanceTypeName(f *vfs.File, desc instanceDescriptor) string {
	if desc.Type != "" {
		return desc.Type
	}
	if t := f.StringAttribute(AttrInstanceType); t != "" {
		return t
	}
	return strings.ReplaceAll(f.Name(), "-", ".")
}

// syncCookie exposes the InstanceCookie exactly while the type resolves.
func (o *InstanceDataObject) syncCookie(broken error) {
	if broken == nil {
		o.Cookies().Add(InstanceCookie(o))
	} else {
		o.Cookies().Remove(InstanceCookie(o))
	}
}

// TypeName returns the resolved or attempted type name.
func (o *InstanceDataObject) TypeName() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.typeName
}

// IsBroken reports whether the type could not be resolved.
func (o *InstanceDataObject) IsBroken() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.broken != nil
}

// Properties returns a copy of the descriptor properties.
func (o *InstanceDataObject) Properties() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.props)
}

// Instance creates the described value, caching it until the file
// changes. A changed file is read again and the InstanceCookie follows
// the new state.
func (o *InstanceDataObject) Instance(ctx context.Context) (any, error) {
	o.mu.Lock()
	stale := !o.PrimaryFile().ModTime().Equal(o.loadedAt)
	if stale {
		o.loadLocked()
	}
	broken := o.broken
	o.mu.Unlock()

	if stale {
		o.syncCookie(broken)
	}
	if broken != nil {
		return nil, broken
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.value != nil {
		return o.value, nil
	}

	it, ok := o.sys.instances.Get(o.typeName)
	if !ok {
		return nil, newLoaderError(ErrClassResolution, o.PrimaryFile().Path(), fmt.Errorf("unknown instance type %q", o.typeName))
	}
	v := it.New()
	if len(o.props) > 0 {
		if err := mapstructure.Decode(o.props, v); err != nil {
			return nil, newLoaderError(ErrIO, o.PrimaryFile().Path(), fmt.Errorf("failed to decode properties: %w", err))
		}
	}
	o.value = v
	return v, nil
}

// InstanceOf reports whether the described value is assignable to t. A
// broken object answers for its own type.
func (o *InstanceDataObject) InstanceOf(t reflect.Type) bool {
	o.mu.Lock()
	broken, typeName := o.broken, o.typeName
	o.mu.Unlock()

	if broken != nil {
		return reflect.TypeOf(o).AssignableTo(t)
	}
	it, ok := o.sys.instances.Get(typeName)
	if !ok {
		return false
	}
	return reflect.TypeOf(it.New()).AssignableTo(t)
}

// Save replaces the descriptor with the properties of v under typeName.
func (o *InstanceDataObject) Save(typeName string, v any) error {
	if err := o.checkValid(); err != nil {
		return err
	}
	data, err := encodeInstance(typeName, v)
	if err != nil {
		return err
	}
	if err := o.PrimaryEntry().Write(data); err != nil {
		return err
	}

	o.mu.Lock()
	o.loadLocked()
	broken := o.broken
	o.mu.Unlock()
	o.syncCookie(broken)
	return nil
}

func encodeInstance(typeName string, v any) ([]byte, error) {
	desc := instanceDescriptor{Type: typeName}
	if v != nil {
		if err := mapstructure.Decode(v, &desc.Properties); err != nil {
			return nil, fmt.Errorf("failed to encode %T: %w", v, err)
		}
	}
	return yaml.Marshal(desc)
}

// WriteInstanceFile creates name.ext in folder describing v.
func WriteInstanceFile(folder *vfs.File, name, ext, typeName string, v any) (*vfs.File, error) {
	data, err := encodeInstance(typeName, v)
	if err != nil {
		return nil, err
	}
	return createFile(folder, name, ext, data)
}

type instanceStrategy struct {
	excluded map[string]bool
}

func (s instanceStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file.IsFolder() || s.excluded[file.Path()] {
		return nil
	}
	switch strings.ToLower(file.Ext()) {
	case InstanceExt, SettingsExt:
		return file
	}
	return nil
}

func (instanceStrategy) CreateObject(ctx context.Context, sys *System, loader Loader, primary *vfs.File) (DataObject, error) {
	return newInstanceDataObject(sys, loader, primary), nil
}

// NewInstanceLoader recognizes .instance and .settings files, except the
// virtual paths listed in excluded.
func NewInstanceLoader(excluded []string) *MultiFileLoader {
	s := instanceStrategy{excluded: make(map[string]bool, len(excluded))}
	for _, p := range excluded {
		s.excluded[vfs.CleanPath(p)] = true
	}
	return NewMultiFileLoader(LoaderInfo{Name: InstanceLoaderName, DisplayName: "Instances"}, instanceObjectType, s)
}
