package tui

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/autisense/autisense/internal/config"
	"github.com/autisense/autisense/internal/tui/theme"

	"github.com/charmbracelet/huh"
)

// SetupValues holds the fields edited by the setup form.
type SetupValues struct {
	Endpoint         string
	MaxRetries       string
	RequireCompleted bool
	Theme            string
}

// SetupValuesFrom seeds the form from cfg.
func SetupValuesFrom(cfg config.Config) SetupValues {
	return SetupValues{
		Endpoint:         cfg.Sync.Endpoint,
		MaxRetries:       strconv.Itoa(cfg.Sync.MaxRetries),
		RequireCompleted: cfg.Sync.RequireCompleted,
		Theme:            cfg.Appearance.Theme,
	}
}

// Apply writes the form values into cfg.
func (v SetupValues) Apply(cfg *config.Config) error {
	if err := validateEndpoint(v.Endpoint); err != nil {
		return err
	}
	n, err := parseRetries(v.MaxRetries)
	if err != nil {
		return err
	}
	cfg.Sync.Endpoint = strings.TrimSpace(v.Endpoint)
	cfg.Sync.MaxRetries = n
	cfg.Sync.RequireCompleted = v.RequireCompleted
	cfg.Appearance.Theme = theme.ByName(v.Theme).Name
	return nil
}

// NewSetupForm builds the setup form bound to vals.
func NewSetupForm(vals *SetupValues) *huh.Form {
	themeOpts := make([]huh.Option[string], 0, len(theme.All))
	for _, t := range theme.All {
		themeOpts = append(themeOpts, huh.NewOption(t.Name, t.Name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("autisense setup").
				Description("Sessions are stored on this device and uploaded\nwithout the child's name when the ingest service is reachable."),
			huh.NewInput().
				Title("Ingest endpoint").
				Description("URL of the /api/sync endpoint").
				Value(&vals.Endpoint).
				Validate(validateEndpoint),
			huh.NewInput().
				Title("Retry budget").
				Description("Failed uploads per session before it is held for manual requeue").
				Value(&vals.MaxRetries).
				Validate(func(s string) error {
					_, err := parseRetries(s)
					return err
				}),
			huh.NewConfirm().
				Title("Upload only completed sessions?").
				Affirmative("Yes").
				Negative("No, upload progressively").
				Value(&vals.RequireCompleted),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themeOpts...).
				Value(&vals.Theme),
		),
	)
}

func validateEndpoint(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("enter an http(s) URL")
	}
	return nil
}

func parseRetries(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 100 {
		return 0, fmt.Errorf("enter a number between 1 and 100")
	}
	return n, nil
}
