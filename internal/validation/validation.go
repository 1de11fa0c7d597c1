package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/winter-report-service/internal/models"
)

// ErrCoordinatesIncomplete is returned when only one of lat/lon is supplied.
var ErrCoordinatesIncomplete = errors.New("both lat and lon are required")

// ErrCoordinatesInvalid is returned when lat/lon are not numbers in range.
var ErrCoordinatesInvalid = errors.New("coordinates are invalid")

// ErrTriggerIDInvalid is returned when an idempotency key is empty after trim,
// too long, or contains disallowed characters.
var ErrTriggerIDInvalid = errors.New("idempotency key is invalid")

// MaxTriggerIDLen bounds caller-supplied idempotency keys.
const MaxTriggerIDLen = 128

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

type coordinates struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
}

// ParseCoordinates parses lat/lon query values. When both are empty it returns def.
// Errors are suitable for 400 INVALID_COORDINATES responses.
func ParseCoordinates(lat, lon string, def models.Coordinates) (models.Coordinates, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" && lon == "" {
		return def, nil
	}
	if lat == "" || lon == "" {
		return models.Coordinates{}, ErrCoordinatesIncomplete
	}
	latF, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: lat %q is not a number", ErrCoordinatesInvalid, lat)
	}
	lonF, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: lon %q is not a number", ErrCoordinatesInvalid, lon)
	}
	c := models.Coordinates{Latitude: latF, Longitude: lonF}
	if err := ValidateCoordinates(c); err != nil {
		return models.Coordinates{}, err
	}
	return c, nil
}

// ValidateCoordinates checks latitude is in [-90, 90] and longitude in [-180, 180].
func ValidateCoordinates(c models.Coordinates) error {
	if err := Validator().Struct(coordinates{Latitude: c.Latitude, Longitude: c.Longitude}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s out of range", ErrCoordinatesInvalid, strings.ToLower(verrs[0].Field()))
		}
		return fmt.Errorf("%w: %v", ErrCoordinatesInvalid, err)
	}
	return nil
}

// ValidateTriggerID trims a caller-supplied idempotency key and restricts it to
// ASCII letters, digits and ":._-".
func ValidateTriggerID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" || len(s) > MaxTriggerIDLen {
		return "", ErrTriggerIDInvalid
	}
	for _, c := range s {
		if !isAllowedTriggerRune(c) {
			return "", ErrTriggerIDInvalid
		}
	}
	return s, nil
}

func isAllowedTriggerRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case ':', '.', '_', '-':
		return true
	}
	return false
}
