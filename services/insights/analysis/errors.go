// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import "errors"

// Sentinel errors for the analysis lifecycle. Handlers map these onto
// HTTP statuses (404 and 409 respectively); everything else is a 500.
var (
	// ErrNotFound is returned when an analysis id has no persisted entity.
	ErrNotFound = errors.New("analysis not found")

	// ErrCannotRetry is returned when retry is requested for an analysis
	// whose status is not exactly failed.
	ErrCannotRetry = errors.New("cannot retry: analysis is not in failed state")

	// ErrClosed is returned when an operation is attempted on a closed
	// orchestrator.
	ErrClosed = errors.New("orchestrator is closed")
)
