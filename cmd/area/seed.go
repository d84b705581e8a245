package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/area/internal/store"
	"github.com/rendis/area/pkg/schema"
)

// seedFile is the YAML layout accepted by `area seed -f`.
type seedFile struct {
	User  seedUser   `yaml:"user"`
	Areas []seedArea `yaml:"areas"`
}

type seedUser struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

type seedArea struct {
	Name      string            `yaml:"name"`
	Active    *bool             `yaml:"is_active"`
	Action    schema.Action     `yaml:"action"`
	Reactions []schema.Reaction `yaml:"reactions"`
}

// defaultSeed is the demo timer area: every six seconds it logs the date
// and time it fired at.
func defaultSeed() *seedFile {
	return &seedFile{
		User: seedUser{Email: "demo@area.local", Name: "Demo"},
		Areas: []seedArea{{
			Name: "Timer log",
			Action: schema.Action{
				Name:       "TIMER_EVERY_X_MINUTES",
				Parameters: map[string]any{"interval": 0.1},
			},
			Reactions: []schema.Reaction{{
				Name:       "TIMER_LOG",
				Parameters: map[string]any{"message": "Action déclenchée le {{date}} à {{time}}."},
			}},
		}},
	}
}

func parseSeed(r io.Reader) (*seedFile, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.Areas) == 0 {
		return nil, fmt.Errorf("seed file defines no areas")
	}
	return &f, nil
}

// seedStore is the part of the store seeding writes to.
type seedStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUser(ctx context.Context, id string) (*store.User, error)
	CreateArea(ctx context.Context, area *schema.Area) error
}

// definitionValidator checks an area definition before it is stored.
type definitionValidator interface {
	ValidateDefinition(area *schema.Area) error
}

// seed validates every area of f, then creates the user (unless it already
// exists by id) and the areas. Nothing is written when any area is invalid.
func seed(ctx context.Context, s seedStore, v definitionValidator, f *seedFile) (*store.User, []*schema.Area, error) {
	areas := make([]*schema.Area, 0, len(f.Areas))
	for i, def := range f.Areas {
		active := true
		if def.Active != nil {
			active = *def.Active
		}
		a := &schema.Area{
			Name:      def.Name,
			IsActive:  active,
			Action:    def.Action,
			Reactions: def.Reactions,
		}
		if err := v.ValidateDefinition(a); err != nil {
			return nil, nil, fmt.Errorf("areas[%d] %q: %w", i, def.Name, err)
		}
		areas = append(areas, a)
	}

	user, err := seedOwner(ctx, s, f.User)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range areas {
		a.UserID = user.ID
		if err := s.CreateArea(ctx, a); err != nil {
			return nil, nil, fmt.Errorf("create area %q: %w", a.Name, err)
		}
	}
	return user, areas, nil
}

func seedOwner(ctx context.Context, s seedStore, u seedUser) (*store.User, error) {
	if u.ID != "" {
		existing, err := s.GetUser(ctx, u.ID)
		if err == nil {
			return existing, nil
		}
		if !schema.IsCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
	}
	if u.Email == "" {
		return nil, fmt.Errorf("seed user needs an id or an email")
	}
	user := &store.User{ID: u.ID, Email: u.Email, Name: u.Name}
	if err := s.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func newSeedCmd(c *cli) *cobra.Command {
	var file, userID string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a user and areas from a YAML file",
		Long: `Creates a user and its areas. Without -f the demo timer area is created:
TIMER_EVERY_X_MINUTES (interval 0.1) logging "Action déclenchée le {{date}} à {{time}}."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := defaultSeed()
			if file != "" {
				fh, err := os.Open(file)
				if err != nil {
					return err
				}
				defer fh.Close()
				if f, err = parseSeed(fh); err != nil {
					return err
				}
			}
			if userID != "" {
				f.User.ID = userID
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			user, areas, err := seed(ctx, rt.store, rt.validator, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user %s (%s)\n", user.ID, user.Email)
			for _, a := range areas {
				fmt.Fprintf(out, "area %s %q %s -> %d reaction(s)\n", a.ID, a.Name, a.Action.Name, len(a.Reactions))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file")
	cmd.Flags().StringVar(&userID, "user-id", "", "attach the areas to this existing user")
	return cmd
}
