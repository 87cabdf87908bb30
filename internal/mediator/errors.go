// SPDX-License-Identifier: MIT

package mediator

import "errors"

var (
	// ErrGenerationNotReady is returned by Activate for a generation that was
	// never fully installed.
	ErrGenerationNotReady = errors.New("mediator: generation not ready")
	// ErrInstallIncomplete is returned by Install when any manifest entry failed.
	ErrInstallIncomplete = errors.New("mediator: install incomplete")
)
