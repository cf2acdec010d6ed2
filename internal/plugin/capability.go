package plugin

import (
	"fmt"
	"sort"
	"strings"

	"arius/internal/task/scheduler"
)

type ErrorKind string

const (
	Identity                 ErrorKind = "identity"
	MixinContractUnsatisfied ErrorKind = "mixin_contract_unsatisfied"
	DuplicateSlug            ErrorKind = "duplicate_slug"
	InstantiationFailure     ErrorKind = "instantiation_failure"
	SourceFailure            ErrorKind = "source_failure"
)

// ValidationError records why a plugin, or one of its capabilities, was not
// accepted.
type ValidationError struct {
	Kind   ErrorKind
	Plugin string // slug, or factory name when no slug is known
	Source string
	Tag    Tag
	Member string
	Err    error
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case Identity:
		return fmt.Sprintf("plugin %q: slug or name is required", e.Plugin)
	case MixinContractUnsatisfied:
		if e.Err != nil {
			return fmt.Sprintf("plugin %q: mixin %q: %s: %v", e.Plugin, e.Tag, e.Member, e.Err)
		}
		return fmt.Sprintf("plugin %q: mixin %q requires %s", e.Plugin, e.Tag, e.Member)
	case DuplicateSlug:
		return fmt.Sprintf("plugin %q: duplicate slug", e.Plugin)
	case InstantiationFailure:
		return fmt.Sprintf("plugin %q: instantiation failed: %v", e.Plugin, e.Err)
	case SourceFailure:
		return fmt.Sprintf("plugin source %q: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("plugin %q: %s", e.Plugin, e.Kind)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks every declared mixin against its contract. It returns the
// granted tags (sorted) and one error per unsatisfied contract. It does not
// check identity.
func Validate(p Plugin) ([]Tag, []*ValidationError) {
	slug := SlugOf(p.Meta())
	seen := map[Tag]bool{}
	var granted []Tag
	var errs []*ValidationError

	for _, tag := range p.Mixins() {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		member, err := checkContract(p, tag)
		if member != "" || err != nil {
			errs = append(errs, &ValidationError{Kind: MixinContractUnsatisfied, Plugin: slug, Tag: tag, Member: member, Err: err})
			continue
		}
		granted = append(granted, tag)
	}
	sort.Slice(granted, func(i, j int) bool { return granted[i] < granted[j] })
	return granted, errs
}

// checkContract returns the missing member, or an error describing a member
// that exists but has the wrong shape.
func checkContract(p Plugin, tag Tag) (member string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch tag {
	case TagEvent:
		if _, ok := p.(EventHandler); !ok {
			return "ProcessEvent", nil
		}
	case TagURLs:
		up, ok := p.(URLProvider)
		if !ok {
			return "URLs", nil
		}
		routes := up.URLs()
		if len(routes) == 0 {
			return "URLs", fmt.Errorf("no routes")
		}
		for i, r := range routes {
			if strings.TrimSpace(r.Path) == "" {
				return "URLs", fmt.Errorf("route %d has no path", i)
			}
		}
	case TagSettings:
		sp, ok := p.(SettingsProvider)
		if !ok {
			return "Settings", nil
		}
		settings := sp.Settings()
		if len(settings) == 0 {
			return "Settings", fmt.Errorf("no settings")
		}
		keys := map[string]bool{}
		for _, s := range settings {
			k := strings.TrimSpace(s.Key)
			if k == "" {
				return "Settings", fmt.Errorf("setting without key")
			}
			if keys[k] {
				return "Settings", fmt.Errorf("duplicate setting %q", k)
			}
			keys[k] = true
		}
	case TagSchedule:
		sp, ok := p.(ScheduleProvider)
		if !ok {
			return "ScheduledTasks", nil
		}
		tasks := sp.ScheduledTasks()
		if len(tasks) == 0 {
			return "ScheduledTasks", fmt.Errorf("no scheduled tasks")
		}
		for _, t := range tasks {
			name := strings.TrimSpace(t.Name)
			if name == "" || strings.Contains(name, ".") {
				return "ScheduledTasks", fmt.Errorf("invalid task name %q", t.Name)
			}
			if t.Func == nil {
				return "ScheduledTasks", fmt.Errorf("task %q has no func", name)
			}
			if !t.Kind.Known() {
				return "ScheduledTasks", fmt.Errorf("task %q: unknown schedule kind %q", name, t.Kind)
			}
			if err := scheduler.Validate(t.Kind, t.Params, scheduler.CheckCron); err != nil {
				return "ScheduledTasks", fmt.Errorf("task %q: %w", name, err)
			}
		}
	default:
		return "contract", fmt.Errorf("unknown mixin")
	}
	return "", nil
}
