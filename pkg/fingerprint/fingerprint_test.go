package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestMembership(t *testing.T) {
	a := Membership([]string{"r1", "r2", "r3"})

	assert.Len(t, a, 64)
	assert.Equal(t, a, Membership([]string{"r3", "r1", "r2"}), "order independent")
	assert.Equal(t, a, Membership([]string{"r1", "r2", "r3", "r2"}), "duplicates ignored")
	assert.NotEqual(t, a, Membership([]string{"r1", "r2"}))
	assert.NotEqual(t, Membership([]string{"a\nb"}), Membership([]string{"a", "b"}))
}

func TestAttributes(t *testing.T) {
	base := models.Attributes{
		"name":  models.String("Ann Lee"),
		"age":   models.Number(41),
		"admin": models.Bool(true),
	}

	t.Run("stable across map order", func(t *testing.T) {
		clone := base.Clone()
		assert.Equal(t, Attributes(base), Attributes(clone))
	})

	t.Run("kind sensitive", func(t *testing.T) {
		other := base.Clone()
		other["age"] = models.String("41")
		assert.NotEqual(t, Attributes(base), Attributes(other))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, Attributes(nil), Attributes(models.Attributes{}))
	})
}
