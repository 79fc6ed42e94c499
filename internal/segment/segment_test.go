package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemIsSpeech(t *testing.T) {
	assert.True(t, Item{Kind: KindSpeech, Begin: 0, End: 1}.IsSpeech())
	assert.False(t, Item{Kind: KindVoid, Begin: 0, End: 1}.IsSpeech())
}

func TestItemString(t *testing.T) {
	s := Item{Kind: KindSpeech, Begin: 1.5, End: 2.25}.String()
	assert.Contains(t, s, "speech")
	assert.Contains(t, s, "1.500")
	assert.Contains(t, s, "2.250")
}
