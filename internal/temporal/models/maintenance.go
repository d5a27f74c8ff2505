package models

import (
	"time"

	ierr "github.com/elementojuris/billing/internal/errors"
)

// MaintenanceWorkflowInput is the input of the scheduled maintenance workflow.
// A zero AsOf means the workflow's own clock.
type MaintenanceWorkflowInput struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// MaintenanceActivityInput carries the sweep instant into the activity
type MaintenanceActivityInput struct {
	Now time.Time `json:"now"`
}

func (i *MaintenanceActivityInput) Validate() error {
	if i.Now.IsZero() {
		return ierr.NewError("now is required").
			WithHint("Maintenance time is required").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// MaintenanceWorkflowResult counts what the sweep did
type MaintenanceWorkflowResult struct {
	Expired    int       `json:"expired"`
	Canceled   int       `json:"canceled"`
	EmailsSent int       `json:"emails_sent"`
	RanAt      time.Time `json:"ran_at"`
}
