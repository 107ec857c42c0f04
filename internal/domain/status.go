package domain

// Catalog execution status codes.
const (
	StatusCreated           = 1
	StatusRunning           = 2
	StatusCanceled          = 3
	StatusFailed            = 4
	StatusPending           = 5
	StatusEndedUnexpectedly = 6
	StatusSucceeded         = 7
	StatusStopping          = 8
	StatusCompleted         = 9
)

// StatusColor is the presentation severity attached to a status.
type StatusColor string

const (
	ColorSuccess   StatusColor = "success"
	ColorDanger    StatusColor = "danger"
	ColorPrimary   StatusColor = "primary"
	ColorWarning   StatusColor = "warning"
	ColorSecondary StatusColor = "secondary"
)

// StatusUnknown is the label for codes outside the catalog.
const StatusUnknown = "Unknown"

type statusEntry struct {
	label string
	color StatusColor
}

var statusCatalog = map[int]statusEntry{
	StatusCreated:           {label: "Created", color: ColorSecondary},
	StatusRunning:           {label: "Running", color: ColorPrimary},
	StatusCanceled:          {label: "Canceled", color: ColorWarning},
	StatusFailed:            {label: "Failed", color: ColorDanger},
	StatusPending:           {label: "Pending", color: ColorSecondary},
	StatusEndedUnexpectedly: {label: "EndedUnexpectedly", color: ColorSecondary},
	StatusSucceeded:         {label: "Succeeded", color: ColorSuccess},
	StatusStopping:          {label: "Stopping", color: ColorSecondary},
	StatusCompleted:         {label: "Completed", color: ColorSecondary},
}

// InFlightStatuses are the non-terminal codes, in catalog order.
var InFlightStatuses = []int{StatusCreated, StatusRunning, StatusPending, StatusStopping}

// StatusLabel returns the display label for a status code.
func StatusLabel(code int) string {
	if entry, ok := statusCatalog[code]; ok {
		return entry.label
	}
	return StatusUnknown
}

// StatusColorOf returns the presentation color for a status code.
func StatusColorOf(code int) StatusColor {
	if entry, ok := statusCatalog[code]; ok {
		return entry.color
	}
	return ColorSecondary
}

// IsInFlight reports whether the code belongs to a run that has not finished.
func IsInFlight(code int) bool {
	for _, s := range InFlightStatuses {
		if s == code {
			return true
		}
	}
	return false
}
