package identity

import "github.com/opensafely-core/airlock/internal/apierror"

func permissionDenied(msg string) error {
	return apierror.NewPermissionDenied(msg)
}
