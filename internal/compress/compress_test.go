package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 1024, 1 << 20}
	levels := []Level{LevelFast, LevelBalanced, LevelBest}

	rng := rand.New(rand.NewSource(42))

	for _, size := range sizes {
		data := make([]byte, size)
		rng.Read(data)

		for _, level := range levels {
			compressed, err := Compress(data, level)
			require.NoError(t, err)

			decompressed, err := Decompress(compressed)
			require.NoError(t, err)

			assert.True(t, bytes.Equal(data, decompressed))
		}
	}
}

func TestCompress_InvalidLevel(t *testing.T) {
	_, err := Compress([]byte("x"), Level("nonsense"))
	assert.Error(t, err)
}
