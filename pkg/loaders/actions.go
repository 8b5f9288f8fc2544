package loaders

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/tasks"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

// ActionInstanceType is the instance type of persisted action entries.
const ActionInstanceType = "action"

// ActionRef is the value described by one persisted action entry.
type ActionRef struct {
	ID string `mapstructure:"id"`
}

// actionsPath returns the configuration folder of a loader's actions.
func actionsPath(l Loader) string {
	return "/Loaders/" + l.ActionsContext() + "/Actions"
}

func sanitizeActionName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}

// LoadActions reads the persisted action list of l into l. It reports
// false when nothing is persisted, leaving l unchanged.
func (s *System) LoadActions(ctx context.Context, l Loader) (bool, error) {
	folder := s.fsys.FindResource(actionsPath(l))
	if folder == nil || !folder.IsFolder() {
		return false, nil
	}
	df, err := s.FindFolder(ctx, folder)
	if err != nil {
		return false, err
	}
	children, err := df.Children(ctx)
	if err != nil {
		return false, err
	}

	var ids []string
	for _, c := range children {
		inst, ok := c.(*InstanceDataObject)
		if !ok || inst.IsBroken() {
			continue
		}
		v, err := inst.Instance(ctx)
		if err != nil {
			logger.Warn("actions of %s: %v", l.Name(), err)
			continue
		}
		if ref, ok := v.(*ActionRef); ok && ref.ID != "" {
			ids = append(ids, ref.ID)
		}
	}
	l.SetActions(ids)
	return true, nil
}

// SaveActions persists the current action list of l on the background
// processor.
func (s *System) SaveActions(l Loader) *tasks.Task {
	ids := l.Actions()
	return s.proc.Post(func(ctx context.Context) error {
		return s.writeActions(l, ids)
	})
}

func (s *System) writeActions(l Loader, ids []string) error {
	folder, err := s.mkdirs(actionsPath(l))
	if err != nil {
		return err
	}

	return s.fsys.RunAtomic(func() error {
		for _, c := range folder.Children() {
			if c.IsFolder() || !strings.EqualFold(c.Ext(), InstanceExt) {
				continue
			}
			lock, err := c.Lock()
			if err != nil {
				return err
			}
			err = c.Delete(lock)
			lock.Release()
			if err != nil {
				return err
			}
		}

		names := make([]string, 0, len(ids))
		for _, id := range ids {
			name := freeName(folder, sanitizeActionName(id), []string{InstanceExt})
			f, err := WriteInstanceFile(folder, name, InstanceExt, ActionInstanceType, &ActionRef{ID: id})
			if err != nil {
				return fmt.Errorf("failed to persist action %s of %s: %w", id, l.Name(), err)
			}
			names = append(names, f.NameExt())
		}
		return setOrderNames(folder, names)
	})
}

// mkdirs returns the folder at p, creating missing folders.
func (s *System) mkdirs(p string) (*vfs.File, error) {
	cur := s.fsys.Root()
	for _, part := range strings.Split(strings.Trim(vfs.CleanPath(p), "/"), "/") {
		if part == "" {
			continue
		}
		next := cur.Child(part)
		if next == nil {
			var err error
			next, err = cur.CreateFolder(part)
			if err != nil {
				return nil, err
			}
		}
		if !next.IsFolder() {
			return nil, fmt.Errorf("%s is not a folder", next.Path())
		}
		cur = next
	}
	return cur, nil
}
