package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittoloaders/pkg/loaders"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// builtinLoaders are installed by every system and cannot be declared.
var builtinLoaders = []string{
	loaders.FolderLoaderName,
	loaders.DefaultLoaderName,
	loaders.InstanceLoaderName,
	loaders.ShadowLoaderName,
}

// Validate checks the struct tags first, then the rules that span fields
// (declared loader names, the preferred loader, watching). Log levels are
// accepted in any case; ApplyDefaults normalizes them.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Filesystem.Watch.Enabled && cfg.Filesystem.Root == "" {
		return fmt.Errorf("filesystem.watch: watching requires filesystem.root")
	}

	names := make(map[string]bool)
	for i, d := range cfg.Loaders.Declared {
		if slices.Contains(builtinLoaders, d.Name) {
			return fmt.Errorf("loaders.declared[%d]: %q is a built-in loader", i, d.Name)
		}
		if names[d.Name] {
			return fmt.Errorf("loaders.declared[%d]: duplicate loader name %q", i, d.Name)
		}
		names[d.Name] = true

		if (len(d.Extensions) == 0) == (len(d.Patterns) == 0) {
			return fmt.Errorf("loaders.declared[%d]: exactly one of extensions and patterns must be set", i)
		}
		if len(d.SecondaryExtensions) > 0 && len(d.Extensions) != 1 {
			return fmt.Errorf("loaders.declared[%d]: secondary_extensions require exactly one primary extension", i)
		}
	}

	if p := cfg.Loaders.Preferred; p != "" {
		if !names[p] {
			return fmt.Errorf("loaders.preferred: %q is not a declared loader", p)
		}
		if slices.Contains(cfg.Loaders.Order, p) {
			return fmt.Errorf("loaders.order: the preferred loader %q cannot be reordered", p)
		}
	}

	return nil
}

// formatValidationError reports every failed field, one per line.
func formatValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	msgs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Errorf("%s: fails %q (got %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
	}
	return errors.Join(msgs...)
}
