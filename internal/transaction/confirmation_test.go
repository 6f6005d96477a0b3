package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rovshanmuradov/txlife/internal/blockchain"
)

func block(number uint64) blockchain.BlockRef {
	return blockchain.BlockRef{Number: number, Hash: "0xaa"}
}

func TestConfirmationTracker_CountsByHeight(t *testing.T) {
	c := NewConfirmationTracker(3)

	assert.Equal(t, uint64(0), c.Observe(block(4)))
	assert.False(t, c.Satisfied())

	assert.Equal(t, uint64(1), c.Include(block(5)))
	assert.Equal(t, uint64(1), c.Observe(block(5)))
	assert.False(t, c.Satisfied())

	assert.Equal(t, uint64(2), c.Observe(block(6)))
	assert.False(t, c.Satisfied())

	assert.Equal(t, uint64(3), c.Observe(block(7)))
	assert.True(t, c.Satisfied())
}

func TestConfirmationTracker_SkippedHeadsStillCount(t *testing.T) {
	c := NewConfirmationTracker(5)
	c.Include(block(10))

	assert.Equal(t, uint64(5), c.Observe(block(14)))
	assert.True(t, c.Satisfied())
}

func TestConfirmationTracker_NeverDecreases(t *testing.T) {
	c := NewConfirmationTracker(10)
	c.Include(block(10))
	c.Observe(block(13))

	assert.Equal(t, uint64(4), c.Observe(block(11)))
	assert.Equal(t, uint64(4), c.Observe(block(9)))
	assert.Equal(t, uint64(4), c.Count())
}

func TestConfirmationTracker_ZeroThreshold(t *testing.T) {
	c := NewConfirmationTracker(0)
	assert.Equal(t, uint64(1), c.Threshold())

	c.Include(block(1))
	assert.True(t, c.Satisfied())
}

func TestConfirmationTracker_Canonical(t *testing.T) {
	c := NewConfirmationTracker(3)
	assert.True(t, c.Canonical(blockchain.BlockRef{Number: 5, Hash: "0xbb"}), "nothing included yet")

	c.Include(blockchain.BlockRef{Number: 5, Hash: "0xaa"})
	assert.True(t, c.Canonical(blockchain.BlockRef{Number: 5, Hash: "0xaa"}))
	assert.False(t, c.Canonical(blockchain.BlockRef{Number: 5, Hash: "0xbb"}))

	c.Include(blockchain.BlockRef{Number: 5})
	assert.True(t, c.Canonical(blockchain.BlockRef{Number: 5, Hash: "0xbb"}), "hashless inclusion")
}

func TestConfirmationTracker_Reset(t *testing.T) {
	c := NewConfirmationTracker(2)
	c.Include(block(3))
	c.Observe(block(4))
	assert.True(t, c.Satisfied())

	c.Reset()
	assert.False(t, c.Included())
	assert.False(t, c.Satisfied())
	assert.Equal(t, uint64(0), c.Count())
	assert.True(t, c.Block().IsZero())
}
