package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pauljones0/free-games-bot/internal/models"
)

// Validator is a wrapper around the validator library.
type Validator struct {
	validate *validator.Validate
}

// New creates a new Validator instance with the offer rules registered.
func New() *Validator {
	v := validator.New()
	v.RegisterStructValidation(offerDates, models.LiveOffer{})
	return &Validator{
		validate: v,
	}
}

// ValidateOffer checks a fetched offer. Failures wrap models.ErrInvalidOffer.
func (v *Validator) ValidateOffer(o models.LiveOffer) error {
	if err := v.validate.Struct(o); err != nil {
		return fmt.Errorf("%w %q: %v", models.ErrInvalidOffer, o.Title, err)
	}
	return nil
}

// offerDates rejects offers that end before they start. A zero end date means
// the source does not publish one.
func offerDates(sl validator.StructLevel) {
	o := sl.Current().Interface().(models.LiveOffer)
	if !o.EndDate.IsZero() && o.EndDate.Before(o.StartDate) {
		sl.ReportError(o.EndDate, "EndDate", "end_date", "endafterstart", "")
	}
}
