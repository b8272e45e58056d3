package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriber_Format(t *testing.T) {
	id := Subscriber("orders")
	assert.True(t, strings.HasPrefix(id, "rivulex:orders:sub:"))
}

func TestTrimmer_Format(t *testing.T) {
	id := Trimmer("orders")
	assert.True(t, strings.HasPrefix(id, "rivulex:orders:trimmer:"))
}

func TestSubscriber_Unique(t *testing.T) {
	a := Subscriber("orders")
	b := Subscriber("orders")
	assert.NotEqual(t, a, b)
}
