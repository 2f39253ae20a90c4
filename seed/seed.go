/*
Package seed loads rooms, users and policy overrides from a YAML file.

PURPOSE:
  A fresh database has the default policy and nothing else. Operators and
  demos describe the starting state in one file that cmd/server applies at
  startup. Applying the same file twice leaves the same state: rooms and
  users are upserted by id.

FILE FORMAT:
    policy:
      approval_mode: true
      slot_minutes: 30
    rooms:
      - id: main
        name: Main Room
    users:
      - id: admin-1
        email: admin@example.com
        role: admin

HOW IT APPLIES:
 1. Decode strictly (unknown keys are an error)
 2. Validate every entry
 3. One store transaction: policy patch, rooms, users

SEE ALSO:
  - cmd/server/main.go: -seed flag
  - core/store.go:      Tx methods used here
*/
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/warp/roombook/core"
)

// =============================================================================
// FILE TYPES
// =============================================================================

type File struct {
	Policy *Policy `yaml:"policy"`
	Rooms  []Room  `yaml:"rooms" validate:"dive"`
	Users  []User  `yaml:"users" validate:"dive"`
}

// Policy overrides the stored policy; omitted keys keep their value.
type Policy struct {
	ApprovalMode       *bool   `yaml:"approval_mode"`
	SlotMinutes        *int    `yaml:"slot_minutes" validate:"omitempty,min=1,max=1440"`
	MaxDurationMinutes *int    `yaml:"max_duration_minutes" validate:"omitempty,min=1"`
	OpenTime           *string `yaml:"open_time" validate:"omitempty,len=5"`
	CloseTime          *string `yaml:"close_time" validate:"omitempty,len=5"`
}

type Room struct {
	ID     string `yaml:"id" validate:"required"`
	Name   string `yaml:"name" validate:"required"`
	Active *bool  `yaml:"active"` // defaults to true
}

type User struct {
	ID          string `yaml:"id" validate:"required"`
	Email       string `yaml:"email" validate:"required,email"`
	Name        string `yaml:"name"`
	CompanyName string `yaml:"company_name"`
	Role        string `yaml:"role" validate:"omitempty,oneof=admin user"`
	Status      string `yaml:"status" validate:"omitempty,oneof=active inactive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// LOADING
// =============================================================================

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	// #nosec G304 -- seed file paths are provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates seed YAML.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	if err := f.checkUnique(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) checkUnique() error {
	rooms := make(map[string]bool, len(f.Rooms))
	for _, r := range f.Rooms {
		if rooms[r.ID] {
			return fmt.Errorf("invalid seed file: duplicate room id %q", r.ID)
		}
		rooms[r.ID] = true
	}
	users := make(map[string]bool, len(f.Users))
	emails := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		email := strings.ToLower(u.Email)
		if users[u.ID] || emails[email] {
			return fmt.Errorf("invalid seed file: duplicate user %q", u.ID)
		}
		users[u.ID] = true
		emails[email] = true
	}
	return nil
}

// =============================================================================
// APPLYING
// =============================================================================

// Summary counts what Apply wrote.
type Summary struct {
	Rooms  int
	Users  int
	Policy bool
}

// Apply writes f to store in a single transaction.
func Apply(ctx context.Context, store core.Store, f *File, now time.Time) (Summary, error) {
	var sum Summary
	err := store.WithTx(ctx, func(tx core.Tx) error {
		if f.Policy != nil {
			current, err := tx.GetPolicy(ctx)
			if err != nil {
				return err
			}
			next := f.Policy.patch().Apply(current)
			if err := next.Check(); err != nil {
				return fmt.Errorf("seed policy: %w", err)
			}
			next.UpdatedAt = now
			if err := tx.SavePolicy(ctx, next); err != nil {
				return err
			}
			sum.Policy = true
		}

		for _, r := range f.Rooms {
			active := r.Active == nil || *r.Active
			if err := tx.SaveRoom(ctx, core.Room{ID: core.RoomID(r.ID), Name: r.Name, Active: active}); err != nil {
				return fmt.Errorf("seed room %s: %w", r.ID, err)
			}
			sum.Rooms++
		}

		for _, u := range f.Users {
			if err := tx.SaveUser(ctx, u.toCore(now)); err != nil {
				return fmt.Errorf("seed user %s: %w", u.ID, err)
			}
			sum.Users++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func (p Policy) patch() core.PolicyPatch {
	return core.PolicyPatch{
		ApprovalMode:       p.ApprovalMode,
		SlotMinutes:        p.SlotMinutes,
		MaxDurationMinutes: p.MaxDurationMinutes,
		OpenTime:           p.OpenTime,
		CloseTime:          p.CloseTime,
	}
}

func (u User) toCore(now time.Time) core.User {
	role := core.RoleUser
	if u.Role != "" {
		role = core.Role(u.Role)
	}
	status := core.UserActive
	if u.Status != "" {
		status = core.UserStatus(u.Status)
	}
	return core.User{
		ID:          core.UserID(u.ID),
		Email:       u.Email,
		Name:        u.Name,
		CompanyName: u.CompanyName,
		Role:        role,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
