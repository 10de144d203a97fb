package gemini

import (
	"errors"
	"fmt"

	"github.com/phrazzld/bulkgen/internal/bulk"
)

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the producer configuration is unusable.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the model answer cannot be used.
	ErrInvalidResponse = fmt.Errorf("%w: invalid response from language model", bulk.ErrInvalidItem)

	// ErrContentBlocked is returned when the model refuses the prompt on safety grounds.
	ErrContentBlocked = fmt.Errorf("%w: content blocked by safety filters", bulk.ErrInvalidItem)

	// ErrReviewConflict is returned when the review already exists and the job
	// did not ask to skip existing reviews.
	ErrReviewConflict = fmt.Errorf("%w: review already exists", bulk.ErrInvalidItem)
)
