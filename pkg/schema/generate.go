package schema

import (
	"github.com/google/uuid"
)

// UUIDv7 generates time-ordered UUID strings for new entities whose key is
// still empty.
func UUIDv7() MemberOption {
	return Generate(func() any {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.NewString()
		}
		return id.String()
	})
}

// UUID generates uuid.UUID values for members of that type.
func UUID() MemberOption {
	return Generate(func() any {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.New()
		}
		return id
	})
}
