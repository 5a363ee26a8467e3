package seed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
)

// Fixture is one YAML file of scenes to load.
type Fixture struct {
	Name   string         `yaml:"-"`
	Scenes []SceneFixture `yaml:"scenes"`
}

// SceneFixture defines a scene and the tokens placed on it.
type SceneFixture struct {
	domain.Scene `yaml:",inline"`
	Tokens       []TokenFixture `yaml:"tokens"`
}

// TokenFixture defines a token at version 0.
type TokenFixture struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Sprite      string `yaml:"sprite"`
	XCell       int    `yaml:"x_cell"`
	YCell       int    `yaml:"y_cell"`
	OwnerUserID string `yaml:"owner_user_id"`
	Visibility  string `yaml:"visibility"`
}

// LoadFixtures reads every fixture matching pattern, ordered by file name.
func LoadFixtures(pattern string) ([]Fixture, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob fixtures: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no fixtures match %s", pattern)
	}
	sort.Strings(paths)

	fixtures := make([]Fixture, 0, len(paths))
	for _, path := range paths {
		fixture, err := LoadFixture(path)
		if err != nil {
			return nil, err
		}
		fixtures = append(fixtures, fixture)
	}
	return fixtures, nil
}

// LoadFixture reads and validates a single fixture file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	fixture.Name = filepath.Base(path)
	for i, scene := range fixture.Scenes {
		if err := scene.Scene.Validate(); err != nil {
			return Fixture{}, fmt.Errorf("fixture %s scene %d: %w", fixture.Name, i, err)
		}
	}
	return fixture, nil
}

// Token builds the domain token for fixture t on scene.
func (t TokenFixture) Token(scene domain.Scene) (domain.Token, error) {
	if strings.TrimSpace(t.ID) == "" {
		return domain.Token{}, errors.New("token id is required")
	}
	visibility, err := domain.ParseVisibility(t.Visibility)
	if err != nil {
		return domain.Token{}, err
	}
	token := domain.Token{
		ID:         t.ID,
		SceneID:    scene.ID,
		SessionID:  scene.SessionID,
		Name:       t.Name,
		Sprite:     t.Sprite,
		XCell:      t.XCell,
		YCell:      t.YCell,
		Visibility: visibility,
	}
	if t.OwnerUserID != "" {
		token.OwnerUserID = domain.StringPtr(t.OwnerUserID)
	}
	if err := token.CheckPlacement(scene); err != nil {
		return domain.Token{}, err
	}
	return token, nil
}
