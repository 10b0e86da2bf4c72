package submission

import "github.com/google/uuid"

// NewTransactionID returns a time-ordered UUIDv7. Uniqueness is still enforced
// by the store's primary key.
func NewTransactionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
