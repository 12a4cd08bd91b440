// Package directory imports the members and activity definitions the
// workflow reads but never writes.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"kmp.org/internal/activities"
)

// File is the on-disk layout of a directory import.
type File struct {
	Members    []Member   `yaml:"members"`
	Activities []Activity `yaml:"activities"`
}

type Member struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"displayName"`
	Email       string `yaml:"email"`
}

type Activity struct {
	ID                     string `yaml:"id"`
	Name                   string `yaml:"name"`
	NumRequiredAuthorizors int    `yaml:"numRequiredAuthorizors"`
	NumRequiredRenewers    int    `yaml:"numRequiredRenewers"`
	TermYears              int    `yaml:"termYears"`
	MinimumAge             *int   `yaml:"minimumAge"`
	MaximumAge             *int   `yaml:"maximumAge"`
	GrantsRoleID           string `yaml:"grantsRoleId"`
	PermissionID           string `yaml:"permissionId"`
}

// Sink receives imported records. The sqlite and Postgres stores implement it.
type Sink interface {
	SaveActivity(ctx context.Context, a activities.Activity) error
	SaveMember(ctx context.Context, m activities.Member) error
}

// MemorySink adapts the in-memory store.
type MemorySink struct {
	Store *activities.InMemory
}

func (s MemorySink) SaveActivity(_ context.Context, a activities.Activity) error {
	s.Store.PutActivity(a)
	return nil
}

func (s MemorySink) SaveMember(_ context.Context, m activities.Member) error {
	s.Store.PutMember(m)
	return nil
}

// Load reads and validates a directory file.
func Load(path string) (*File, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading directory file: %w", err)
	}
	return Parse(buf)
}

// Parse decodes and validates directory YAML.
func Parse(buf []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("error parsing directory file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, m := range f.Members {
		if strings.TrimSpace(m.ID) == "" {
			errs = append(errs, fmt.Errorf("members[%d]: id is required", i))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("members[%d]: duplicate id %q", i, m.ID))
		}
		seen[m.ID] = true
	}
	seen = make(map[string]bool)
	for i, a := range f.Activities {
		switch {
		case strings.TrimSpace(a.ID) == "":
			errs = append(errs, fmt.Errorf("activities[%d]: id is required", i))
		case strings.TrimSpace(a.Name) == "":
			errs = append(errs, fmt.Errorf("activities[%d]: name is required", i))
		case a.TermYears < 1:
			errs = append(errs, fmt.Errorf("activities[%d]: termYears must be at least 1", i))
		case seen[a.ID]:
			errs = append(errs, fmt.Errorf("activities[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
	}
	return errors.Join(errs...)
}

// Apply writes every record to sink, members first.
func (f *File) Apply(ctx context.Context, sink Sink) (members, acts int, err error) {
	for _, m := range f.Members {
		if err := sink.SaveMember(ctx, activities.Member{ID: m.ID, DisplayName: m.DisplayName, Email: m.Email}); err != nil {
			return members, acts, fmt.Errorf("save member %s: %w", m.ID, err)
		}
		members++
	}
	for _, a := range f.Activities {
		act := activities.Activity{
			ID:                     a.ID,
			Name:                   a.Name,
			NumRequiredAuthorizors: a.NumRequiredAuthorizors,
			NumRequiredRenewers:    a.NumRequiredRenewers,
			TermYears:              a.TermYears,
			MinimumAge:             a.MinimumAge,
			MaximumAge:             a.MaximumAge,
			GrantsRoleID:           a.GrantsRoleID,
			PermissionID:           a.PermissionID,
		}
		if err := sink.SaveActivity(ctx, act); err != nil {
			return members, acts, fmt.Errorf("save activity %s: %w", a.ID, err)
		}
		acts++
	}
	return members, acts, nil
}
