package workerpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinCapabilitiesCommaJoins(t *testing.T) {
	assert.Equal(t, "stt-standard,stt-fast", joinCapabilities([]string{"stt-standard", "stt-fast"}))
	assert.Equal(t, "", joinCapabilities(nil))
	assert.Equal(t, "solo", joinCapabilities([]string{"solo"}))
}
