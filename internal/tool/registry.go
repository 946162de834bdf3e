// Package tool finds the yt-dlp executable, installing a private copy when it isn't already available.
package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/generic"
)

var (
	ErrDuplicateLocator = errors.New("duplicate locator name")
	ErrInvalidLocator   = errors.New("invalid locator")
	ErrUnknownLocator   = errors.New("unknown locator")
	// ErrNotFound is returned by a Locator that has nothing to offer, passing control to the next one.
	ErrNotFound = errors.New("tool not found")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
)

type LocateFunc = func(ctx context.Context) (string, error)

// A Locator is one strategy for finding the tool. It returns the executable's path, ErrNotFound (possibly wrapped) to
// defer to the next Locator, or any other error to stop resolution altogether.
type Locator struct {
	Name   string
	Locate LocateFunc
	// Priority of the locator, lower (including negative) means trying earlier.
	Priority int16
}

// ResolvedTool is where the tool was found, and by which Locator.
type ResolvedTool struct {
	Path    string
	Locator string
}

// A Registry is a collection of Locator instances, tried in priority order.
type Registry struct {
	locators   []*Locator
	locatorMap map[string]*Locator
}

// Add registers a Locator. Locator.Name and Locator.Locate must be set, and Locator.Name must be unique within the
// Registry.
func (r *Registry) Add(l Locator) error {
	if r.locatorMap == nil {
		r.locatorMap = make(map[string]*Locator)
	}
	if l.Name == "" || l.Locate == nil {
		return ErrInvalidLocator
	}
	if _, ok := r.locatorMap[l.Name]; ok {
		return ErrDuplicateLocator
	}
	r.locatorMap[l.Name] = &l
	r.locators = append(r.locators, r.locatorMap[l.Name])
	r.sortByPriority()
	return nil
}

// CreatePriority is a shortcut for Add(Locator{Name: ..., Locate: ..., Priority: ...}).
func (r *Registry) CreatePriority(name string, f LocateFunc, priority int16) error {
	return r.Add(Locator{
		Name:     name,
		Locate:   f,
		Priority: priority,
	})
}

// List returns the names of registered locators in priority order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.locators))
	for _, l := range r.locators {
		names = append(names, l.Name)
	}
	return names
}

// Resolve tries each Locator in priority order. Every failure is wrapped in video_fetcher.ErrToolUnavailable; when no
// Locator found anything the error lists each one's reason.
func (r *Registry) Resolve(ctx context.Context) (ResolvedTool, error) {
	var result error
	for _, l := range r.locators {
		path, err := l.Locate(ctx)
		switch {
		case err == nil:
			return ResolvedTool{Path: path, Locator: l.Name}, nil
		case errors.Is(err, ErrNotFound):
			result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", l.Name)))
		default:
			return ResolvedTool{}, wrapUnavailable(fmt.Errorf("[%v] %w", l.Name, err))
		}
	}
	if result == nil {
		result = errors.New("no locators registered")
	}
	return ResolvedTool{}, wrapUnavailable(result)
}

// ResolveWith uses only the named Locator.
func (r *Registry) ResolveWith(ctx context.Context, name string) (ResolvedTool, error) {
	l, ok := r.locatorMap[name]
	if !ok {
		return ResolvedTool{}, ErrUnknownLocator
	}
	path, err := l.Locate(ctx)
	if err != nil {
		return ResolvedTool{}, wrapUnavailable(err)
	}
	return ResolvedTool{Path: path, Locator: l.Name}, nil
}

// MustCreatePriority wraps CreatePriority but panics if there is an error.
func (r *Registry) MustCreatePriority(name string, f LocateFunc, priority int16) {
	generic.Unwrap_(r.CreatePriority(name, f, priority))
}

// SetPriority adjusts the priority of a named Locator.
func (r *Registry) SetPriority(name string, priority int16) error {
	if l, ok := r.locatorMap[name]; ok {
		l.Priority = priority
		r.sortByPriority()
		return nil
	} else {
		return ErrUnknownLocator
	}
}

func (r *Registry) sortByPriority() {
	sort.SliceStable(r.locators, func(i, j int) bool {
		return r.locators[i].Priority < r.locators[j].Priority
	})
}

func wrapUnavailable(err error) error {
	if errors.Is(err, video_fetcher.ErrToolUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", video_fetcher.ErrToolUnavailable, err)
}
