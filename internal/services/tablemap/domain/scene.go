package domain

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
)

const (
	// MinGridSize is the smallest accepted cell edge in pixels.
	MinGridSize = 8
	// MaxGridSize is the largest accepted cell edge in pixels.
	MaxGridSize = 256
)

// Scene is a map grid owned by a session.
//
// Scenes are values: every change produces a new Scene with the same ID.
type Scene struct {
	ID        string `json:"id" yaml:"id"`
	SessionID string `json:"sessionId" yaml:"session_id"`
	Name      string `json:"name" yaml:"name"`
	GridSize  int    `json:"gridSize" yaml:"grid_size"`
	WidthPx   int    `json:"widthPx" yaml:"width_px"`
	HeightPx  int    `json:"heightPx" yaml:"height_px"`
	MapImage  string `json:"mapImage,omitempty" yaml:"map_image,omitempty"`
}

// NewScene validates and returns a scene.
func NewScene(id, sessionID, name string, gridSize, widthPx, heightPx int) (Scene, error) {
	scene := Scene{
		ID:        strings.TrimSpace(id),
		SessionID: strings.TrimSpace(sessionID),
		Name:      strings.TrimSpace(name),
		GridSize:  gridSize,
		WidthPx:   widthPx,
		HeightPx:  heightPx,
	}
	if err := scene.Validate(); err != nil {
		return Scene{}, err
	}
	return scene, nil
}

// Validate checks the scene invariants.
func (s Scene) Validate() error {
	switch {
	case s.ID == "":
		return fieldError("id", "id is required")
	case s.SessionID == "":
		return fieldError("sessionId", "sessionId is required")
	case s.Name == "":
		return fieldError("name", "name is required")
	case s.GridSize < MinGridSize || s.GridSize > MaxGridSize:
		return fieldError("gridSize", fmt.Sprintf("gridSize must be between %d and %d", MinGridSize, MaxGridSize))
	case s.WidthPx <= 0:
		return fieldError("widthPx", "widthPx must be positive")
	case s.HeightPx <= 0:
		return fieldError("heightPx", "heightPx must be positive")
	case s.Columns() <= 0:
		return fieldError("widthPx", "widthPx must fit at least one column")
	case s.Rows() <= 0:
		return fieldError("heightPx", "heightPx must fit at least one row")
	}
	return nil
}

// Columns is the number of whole cells across the scene.
func (s Scene) Columns() int {
	if s.GridSize <= 0 {
		return 0
	}
	return s.WidthPx / s.GridSize
}

// Rows is the number of whole cells down the scene.
func (s Scene) Rows() int {
	if s.GridSize <= 0 {
		return 0
	}
	return s.HeightPx / s.GridSize
}

// WithName returns a renamed copy.
func (s Scene) WithName(name string) (Scene, error) {
	next := s
	next.Name = strings.TrimSpace(name)
	if err := next.Validate(); err != nil {
		return Scene{}, err
	}
	return next, nil
}

// WithGrid returns a copy with new grid dimensions.
func (s Scene) WithGrid(gridSize, widthPx, heightPx int) (Scene, error) {
	next := s
	next.GridSize = gridSize
	next.WidthPx = widthPx
	next.HeightPx = heightPx
	if err := next.Validate(); err != nil {
		return Scene{}, err
	}
	return next, nil
}

// Contains reports whether (x, y) is a cell of the scene grid.
// The returned OUT_OF_BOUNDS error names the first violated axis.
func (s Scene) Contains(x, y int) error {
	if err := checkAxis("x", x, s.Columns()); err != nil {
		return err
	}
	return checkAxis("y", y, s.Rows())
}

func checkAxis(axis string, value, bound int) error {
	if value >= 0 && value < bound {
		return nil
	}
	return apperrors.WithMetadata(
		apperrors.CodeOutOfBounds,
		fmt.Sprintf("%sCell %d is outside [0, %d)", axis, value, bound),
		map[string]string{
			"axis":  axis,
			"value": strconv.Itoa(value),
			"bound": strconv.Itoa(bound),
		},
	)
}

func fieldError(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeValidation, message, map[string]string{"field": field})
}
