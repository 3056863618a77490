package domain

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "ABC-1", EscapeLike("ABC-1"))
	assert.Equal(t, `A\%B\_C\\D`, EscapeLike(`A%B_C\D`))
}

func TestLikeToRegexp(t *testing.T) {
	// Arrange
	pattern := "%" + EscapeLike("C_1.") + "%"

	// Act
	re := regexp.MustCompile(LikeToRegexp(pattern))

	// Assert: lo escapado es literal, los comodines no
	assert.Equal(t, `^.*C_1\..*$`, LikeToRegexp(pattern))
	assert.True(t, re.MatchString("ABC_1."))
	assert.False(t, re.MatchString("ABC-1."))
	assert.False(t, re.MatchString("ABC_1x"))

	assert.True(t, regexp.MustCompile(LikeToRegexp("A_C%")).MatchString("ABCD"))
	assert.Equal(t, `^A\\$`, LikeToRegexp(`A\`))
}
