// Package partition assigns graph entities to the training or validation split.
//
// The assignment is a pure function of the entity id: CityHash64 of the id bytes,
// validation iff the hash is divisible by ValidationModulus. Changing the hash
// function changes which entities land in validation, so it is pinned here.
package partition

import (
	"github.com/go-faster/city"

	"docembed/internal/domain"
)

// ValidationModulus puts 1 in 20 ids (about 5%) into the validation split.
const ValidationModulus = 20

// Hash64 is the 64-bit hash shared by split assignment and tag bucketing.
func Hash64(s string) uint64 {
	return city.Hash64([]byte(s))
}

// InTraining reports whether id belongs to the training split.
func InTraining(id domain.EntityID) bool {
	return Hash64(string(id))%ValidationModulus != 0
}

// Filter returns the ids that belong to the requested split, preserving order.
func Filter(ids []domain.EntityID, training bool) []domain.EntityID {
	out := make([]domain.EntityID, 0, len(ids))
	for _, id := range ids {
		if InTraining(id) == training {
			out = append(out, id)
		}
	}
	return out
}

// Split partitions ids into training and validation subsets in one pass.
func Split(ids []domain.EntityID) (train, validation []domain.EntityID) {
	for _, id := range ids {
		if InTraining(id) {
			train = append(train, id)
		} else {
			validation = append(validation, id)
		}
	}
	return train, validation
}
