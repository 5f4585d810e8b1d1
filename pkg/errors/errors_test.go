package errors

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		err := Validationf("column %q missing", "churn")
		assert.True(t, IsValidation(err))
		assert.False(t, IsNotFound(err))
		assert.Contains(t, err.Error(), `column "churn" missing`)
	})

	t.Run("not found survives wrapping", func(t *testing.T) {
		err := Wrap(NotFoundf("no such file: %s", "x.csv"), "load dataset")
		assert.True(t, IsNotFound(err))
		assert.Equal(t, "load dataset: no such file: x.csv", err.Error())
	})

	t.Run("external service keeps cause", func(t *testing.T) {
		err := ExternalService(os.ErrDeadlineExceeded, "ping tracking server")
		assert.True(t, IsExternalService(err))
		assert.True(t, Is(err, os.ErrDeadlineExceeded))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, ExternalService(nil, "noop"))
		assert.False(t, IsValidation(nil))
	})
}

func TestHints(t *testing.T) {
	err := WithHint(NotFoundf("params.yaml"), "run setup first")
	assert.Equal(t, []string{"run setup first"}, GetAllHints(err))
	assert.True(t, IsNotFound(err))
}
