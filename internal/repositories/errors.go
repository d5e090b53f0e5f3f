package repositories

import "errors"

func asRepositoryError(err error, target *RepositoryError) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}

// NotFoundError is a RepositoryError for lookups that match nothing outside Firestore's own
// not-found path, such as a query by name with no results.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " " + e.Key + " not found"
}

func (e *NotFoundError) IsNotFound() bool    { return true }
func (e *NotFoundError) IsConflict() bool    { return false }
func (e *NotFoundError) IsUnavailable() bool { return false }
