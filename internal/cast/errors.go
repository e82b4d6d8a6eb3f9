package cast

import "errors"

// Failure taxonomy. Gates one to four map onto typed outcomes; effect
// failures always surface as ErrExecution with the underlying error kept in
// logs only.
var (
	ErrUnknownAbility        = errors.New("cast: unknown ability")
	ErrInvalidActor          = errors.New("cast: invalid actor")
	ErrNoPermission          = errors.New("cast: no permission")
	ErrOnCooldown            = errors.New("cast: on cooldown")
	ErrPrerequisiteFailed    = errors.New("cast: prerequisite failed")
	ErrExecution             = errors.New("cast: execution failed")
	ErrInternalInconsistency = errors.New("cast: internal inconsistency")
)
