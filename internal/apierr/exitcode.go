package apierr

// Process exit codes consumed by the CLI layer.
const (
	ExitOK      = 0
	ExitUser    = 1
	ExitAuth    = 2
	ExitRemote  = 3
	ExitNetwork = 4
)

// ExitCode maps err onto the exit-code contract. nil maps to ExitOK; errors
// that never passed through the engine are treated as user errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch KindOf(err) {
	case KindAuth:
		return ExitAuth
	case KindValidation, KindNotFound, KindRateLimited, KindServer,
		KindProtocol, KindTransaction:
		return ExitRemote
	case KindNetwork:
		return ExitNetwork
	default:
		return ExitUser
	}
}
