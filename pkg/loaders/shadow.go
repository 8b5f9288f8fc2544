package loaders

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/vfs"
	"gopkg.in/yaml.v3"
)

const (
	ShadowExt = "shadow"

	shadowScheme = "vfs:"
)

type shadowDescriptor struct {
	Target string `yaml:"target"`
}

// ShadowURL returns the link target URL of file.
func ShadowURL(file *vfs.File) string {
	return shadowScheme + file.Path()
}

// resolveShadowURL returns the file url points at, or nil.
func resolveShadowURL(fsys *vfs.FileSystem, url string) *vfs.File {
	p, ok := strings.CutPrefix(url, shadowScheme)
	if !ok || p == "" {
		return nil
	}
	return fsys.FindResource(p)
}

func readShadowURL(file *vfs.File) (string, error) {
	data, err := file.Read()
	if err != nil {
		return "", err
	}
	var desc shadowDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return "", fmt.Errorf("invalid shadow file: %w", err)
	}
	return strings.TrimSpace(desc.Target), nil
}

func encodeShadow(url string) ([]byte, error) {
	return yaml.Marshal(shadowDescriptor{Target: url})
}

// writeShadowFile creates name.shadow in folder pointing at url.
func writeShadowFile(folder *vfs.File, name, url string) (*vfs.File, error) {
	data, err := encodeShadow(url)
	if err != nil {
		return nil, err
	}
	return createFile(folder, name, ShadowExt, data)
}

// DataShadow is a link to another data object.
type DataShadow struct {
	*MultiDataObject

	url      string
	original DataObject
	stop     func()
}

// Original returns the linked object.
func (s *DataShadow) Original() DataObject { return s.original }

// URL returns the link target.
func (s *DataShadow) URL() string { return s.url }

// Name is the name of the original.
func (s *DataShadow) Name() string { return s.original.Name() }

// BrokenShadow is a link whose target does not exist. It turns into a
// DataShadow once the target appears (see brokenShadows).
type BrokenShadow struct {
	*MultiDataObject

	url string
}

// URL returns the unresolved link target.
func (s *BrokenShadow) URL() string { return s.url }

// Repair points the link at url. When url resolves, the broken object is
// invalidated and the link is recognized again.
func (s *BrokenShadow) Repair(ctx context.Context, url string) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	data, err := encodeShadow(url)
	if err != nil {
		return err
	}
	if err := s.PrimaryEntry().Write(data); err != nil {
		return err
	}
	s.sys.shadows.remove(s.url, s)
	s.url = url
	s.sys.shadows.add(url, s)
	if s.sys.shadows.check(ctx, s) {
		s.sys.shadows.checkAll(ctx)
	}
	return nil
}

func (s *BrokenShadow) IsCopyAllowed() bool   { return false }
func (s *BrokenShadow) IsShadowAllowed() bool { return false }

type shadowStrategy struct{}

func (shadowStrategy) FindPrimaryFile(ctx context.Context, sys *System, file *vfs.File) *vfs.File {
	if file.IsFolder() || !strings.EqualFold(file.Ext(), ShadowExt) {
		return nil
	}
	return file
}

func (shadowStrategy) CreateObject(ctx context.Context, sys *System, loader Loader, primary *vfs.File) (DataObject, error) {
	url, err := readShadowURL(primary)
	if err != nil {
		logger.Debug("shadow %s: %v", primary.Path(), err)
	}

	target := resolveShadowURL(primary.FileSystem(), url)
	if target != nil {
		original, err := sys.loaders.FindDataObject(ctx, target, nil)
		if _, chained := original.(*BrokenShadow); err == nil && original != nil && !chained {
			return newDataShadow(sys, loader, primary, url, original), nil
		}
		logger.Debug("shadow %s: target %s not usable: %v", primary.Path(), url, err)
	}

	b := &BrokenShadow{MultiDataObject: NewMultiDataObject(sys, loader, primary), url: url}
	sys.shadows.add(url, b)
	b.AddPropertyListener(func(ev PropertyEvent) {
		if ev.Name == PropValid && ev.NewValue == false {
			sys.shadows.remove(b.url, b)
		}
	})
	return b, nil
}

// NewShadowLoader recognizes .shadow link files. Its objects are either
// *DataShadow or *BrokenShadow.
func NewShadowLoader() *MultiFileLoader {
	return NewMultiFileLoader(LoaderInfo{Name: ShadowLoaderName, DisplayName: "Links"}, dataObjectType, shadowStrategy{})
}

func newDataShadow(sys *System, loader Loader, primary *vfs.File, url string, original DataObject) *DataShadow {
	s := &DataShadow{MultiDataObject: NewMultiDataObject(sys, loader, primary), url: url, original: original}

	// follow the original: a vanished original turns the link broken
	stopOriginal := original.AddPropertyListener(func(ev PropertyEvent) {
		if ev.Name != PropValid || ev.NewValue != false {
			return
		}
		sys.proc.Post(func(ctx context.Context) error {
			if !s.IsValid() {
				return nil
			}
			_ = s.SetValid(false)
			if primary.IsValid() {
				_, err := sys.loaders.FindDataObject(ctx, primary, nil)
				return err
			}
			return nil
		})
	})
	s.stop = stopOriginal
	s.AddPropertyListener(func(ev PropertyEvent) {
		if ev.Name == PropValid && ev.NewValue == false {
			s.stop()
		}
	})
	return s
}

// brokenShadows indexes live broken links by target URL.
type brokenShadows struct {
	sys *System

	mu    sync.Mutex
	byURL map[string]map[*BrokenShadow]struct{}
}

func newBrokenShadows(sys *System) *brokenShadows {
	return &brokenShadows{sys: sys, byURL: make(map[string]map[*BrokenShadow]struct{})}
}

func (r *brokenShadows) add(url string, s *BrokenShadow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byURL[url]
	if !ok {
		set = make(map[*BrokenShadow]struct{})
		r.byURL[url] = set
	}
	set[s] = struct{}{}
}

func (r *brokenShadows) remove(url string, s *BrokenShadow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.byURL[url]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.byURL, url)
		}
	}
}

// Len returns the number of live broken links.
func (r *brokenShadows) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.byURL {
		n += len(set)
	}
	return n
}

// resolvable returns the broken links whose target now exists.
func (r *brokenShadows) resolvable() []*BrokenShadow {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*BrokenShadow
	for url, set := range r.byURL {
		if resolveShadowURL(r.sys.fsys, url) == nil {
			continue
		}
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

// checkAll turns every broken link whose target appeared into a resolved
// one. Links to links resolve once their target did, so the pass repeats
// while it makes progress.
func (r *brokenShadows) checkAll(ctx context.Context) {
	for pass := r.Len(); pass >= 0; pass-- {
		progress := false
		for _, s := range r.resolvable() {
			if r.check(ctx, s) {
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

// check invalidates s if its target resolves and recognizes the link
// file again. It reports whether s was replaced.
func (r *brokenShadows) check(ctx context.Context, s *BrokenShadow) bool {
	if !s.IsValid() {
		return false
	}
	target := resolveShadowURL(r.sys.fsys, s.url)
	if target == nil {
		return false
	}
	if _, chained := r.sys.pool.Find(target).(*BrokenShadow); chained {
		return false
	}
	logger.Debug("shadow %s: target %s appeared", s.PrimaryFile().Path(), s.url)
	primary := s.PrimaryFile()
	_ = s.SetValid(false)
	if !primary.IsValid() {
		return true
	}
	if _, err := r.sys.loaders.FindDataObject(ctx, primary, nil); err != nil {
		logger.Warn("shadow %s: recognition failed: %v", primary.Path(), err)
	}
	return true
}

// onOperation re-checks broken links after operations that may create
// their targets.
func (r *brokenShadows) onOperation(ev OperationEvent) {
	if ev.Kind == OpDelete {
		return
	}
	r.checkAll(context.Background())
}

// onEvent re-checks broken links after files appear outside of data
// object operations.
func (r *brokenShadows) onEvent(ev vfs.Event) {
	if ev.IsCreate() || ev.Kind == vfs.Renamed {
		if r.Len() > 0 {
			r.checkAll(context.Background())
		}
	}
}
