package ingest

import "errors"

var (
	// ErrMalformedReport indicates a data topic payload that is not a report.
	ErrMalformedReport = errors.New("malformed device report")

	// ErrMissingDependency indicates the Service was built without a
	// required collaborator.
	ErrMissingDependency = errors.New("missing ingest dependency")
)
