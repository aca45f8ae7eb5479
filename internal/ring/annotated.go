// SPDX-License-Identifier: MIT
package ring

import (
	"errors"
	"fmt"
	"math"
	"weak"
)

const (
	// DefaultTransientThreshold is the block-to-block energy jump, in dB,
	// above which a block is flagged as a transient.
	DefaultTransientThreshold = 20.0

	// EnergyFloorDb and EnergyCeilDb bound EnergyUnit.
	EnergyFloorDb = -60.0
	EnergyCeilDb  = 0.0

	eps = 1e-10
)

// AnnotatedRing is a Ring subdivided into fixed-size blocks. Each time a
// block is completed by an append its energy, its dB change against the
// previous block and its transient flag are recomputed.
type AnnotatedRing struct {
	*Ring

	blockSize int
	numBlocks int
	threshold float64

	energy    []float64 // Sum of squared samples per block.
	diffDb    []float64 // dB change against the preceding block.
	transient []bool

	meta weak.Pointer[AnnotatedRing]
}

// NewAnnotated creates a ring of numBlocks*blockSize samples. A threshold of
// zero selects DefaultTransientThreshold.
func NewAnnotated(numBlocks, blockSize int, threshold float64) (*AnnotatedRing, error) {
	if numBlocks < 1 || blockSize < 1 {
		return nil, fmt.Errorf("%w: need at least one block of one sample, got %d blocks of %d",
			ErrConfiguration, numBlocks, blockSize)
	}
	if threshold == 0 {
		threshold = DefaultTransientThreshold
	}
	base, err := New(numBlocks * blockSize)
	if err != nil {
		return nil, err
	}
	a := &AnnotatedRing{
		Ring:      base,
		blockSize: blockSize,
		numBlocks: numBlocks,
		threshold: threshold,
		energy:    make([]float64, numBlocks),
		diffDb:    make([]float64, numBlocks),
		transient: make([]bool, numBlocks),
	}
	a.meta = weak.Make(a)
	return a, nil
}

// BlockSize returns the number of samples per block.
func (a *AnnotatedRing) BlockSize() int { return a.blockSize }

// NumBlocks returns the number of blocks in the ring.
func (a *AnnotatedRing) NumBlocks() int { return a.numBlocks }

// Threshold returns the transient threshold in dB.
func (a *AnnotatedRing) Threshold() float64 { return a.threshold }

// Append writes items and updates the metadata of every block the write
// completed. It returns the number of block boundaries crossed. Tap
// invalidation is reported after the metadata is up to date, with the same
// semantics as Ring.Append.
func (a *AnnotatedRing) Append(items []float64) (int, error) {
	offset := a.index % a.blockSize
	crossed := (offset + len(items)) / a.blockSize

	// A full lap that starts mid-block rewrites the head of the first block
	// it completes, so that block is measured before the write.
	lapped := crossed == a.numBlocks && offset > 0 && len(items) <= a.length
	var firstEnergy float64
	if lapped {
		start := a.index - offset
		firstEnergy = sumSquares(a.content[start:a.index]) + sumSquares(items[:a.blockSize-offset])
	}

	err := a.Ring.Append(items)
	if errors.Is(err, ErrCapacity) {
		return 0, err
	}

	// The block currently being filled; everything before it is complete.
	writing := a.index / a.blockSize
	for k := crossed; k >= 1; k-- {
		block := mod(writing-k, a.numBlocks)
		if k == crossed && lapped {
			a.annotate(block, firstEnergy)
			continue
		}
		start := block * a.blockSize
		a.annotate(block, sumSquares(a.content[start:start+a.blockSize]))
	}
	return crossed, err
}

func sumSquares(x []float64) float64 {
	var e float64
	for _, s := range x {
		e += s * s
	}
	return e
}

func (a *AnnotatedRing) annotate(block int, energy float64) {
	prev := a.energy[mod(block-1, a.numBlocks)]
	a.energy[block] = energy
	a.diffDb[block] = 10 * math.Log10((eps+energy)/(eps+prev))
	a.transient[block] = a.diffDb[block] > a.threshold
}

// PreviousUpdatedBlockIndex returns the most recently completed block.
func (a *AnnotatedRing) PreviousUpdatedBlockIndex() int {
	return mod(a.index/a.blockSize-1, a.numBlocks)
}

// RecentBlockIndices returns the k most recently completed block indices,
// oldest first.
func (a *AnnotatedRing) RecentBlockIndices(k int) ([]int, error) {
	if k < 0 || k > a.numBlocks {
		return nil, fmt.Errorf("%w: %d recent blocks of %d", ErrRange, k, a.numBlocks)
	}
	last := a.PreviousUpdatedBlockIndex()
	indices := make([]int, k)
	for i := range indices {
		indices[i] = mod(last-k+1+i, a.numBlocks)
	}
	return indices, nil
}

// RecentEnergy returns the energy of the k most recently completed blocks,
// newest first.
func (a *AnnotatedRing) RecentEnergy(k int) ([]float64, error) {
	if k < 0 || k > a.numBlocks {
		return nil, fmt.Errorf("%w: %d recent blocks of %d", ErrRange, k, a.numBlocks)
	}
	last := a.PreviousUpdatedBlockIndex()
	energy := make([]float64, k)
	for i := range energy {
		energy[i] = a.energy[mod(last-i, a.numBlocks)]
	}
	return energy, nil
}

// RecentTransients returns the transient flags of the k most recently
// completed blocks, aligned with RecentBlockIndices (oldest first).
func (a *AnnotatedRing) RecentTransients(k int) ([]bool, error) {
	if k < 0 || k > a.numBlocks {
		return nil, fmt.Errorf("%w: %d recent blocks of %d", ErrRange, k, a.numBlocks)
	}
	last := a.PreviousUpdatedBlockIndex()
	flags := make([]bool, k)
	for i := range flags {
		flags[i] = a.transient[mod(last-k+1+i, a.numBlocks)]
	}
	return flags, nil
}

// FirstRecentTransient returns the oldest transient block among the k most
// recently completed blocks. It does not allocate.
func (a *AnnotatedRing) FirstRecentTransient(k int) (int, bool) {
	if k > a.numBlocks {
		k = a.numBlocks
	}
	last := a.PreviousUpdatedBlockIndex()
	for i := range k {
		block := mod(last-k+1+i, a.numBlocks)
		if a.transient[block] {
			return block, true
		}
	}
	return 0, false
}

// BlockEnergy returns the energy of block i.
func (a *AnnotatedRing) BlockEnergy(i int) float64 { return a.energy[mod(i, a.numBlocks)] }

// BlockDiffDb returns the dB change of block i against block i-1.
func (a *AnnotatedRing) BlockDiffDb(i int) float64 { return a.diffDb[mod(i, a.numBlocks)] }

// IsTransient reports whether block i is flagged as a transient.
func (a *AnnotatedRing) IsTransient(i int) bool { return a.transient[mod(i, a.numBlocks)] }

// CreateTap creates a tap with block-level queries at the last written slot.
func (a *AnnotatedRing) CreateTap() *AnnotatedTap {
	return &AnnotatedTap{
		Tap:  a.Ring.CreateTap(),
		meta: a.meta,
	}
}

// AnnotatedTap layers block-granularity queries over a Tap.
type AnnotatedTap struct {
	*Tap
	meta weak.Pointer[AnnotatedRing]
}

func (t *AnnotatedTap) annotated() (*AnnotatedRing, error) {
	a := t.meta.Value()
	if a == nil || a.closed {
		return nil, fmt.Errorf("%w: %s", ErrOwnerGone, t.name)
	}
	return a, nil
}

// BlockIndex returns the block containing the tap cursor.
func (t *AnnotatedTap) BlockIndex() (int, error) {
	a, err := t.annotated()
	if err != nil {
		return 0, err
	}
	return t.index / a.blockSize, nil
}

// validSpan returns the tap's block and how many complete blocks, starting
// there, lie between the tap and the last updated block.
func (t *AnnotatedTap) validSpan(a *AnnotatedRing) (first, n int) {
	first = t.index / a.blockSize
	writing := a.index / a.blockSize
	n = mod(writing-first, a.numBlocks)
	if n == 0 && t.index >= a.index {
		// A full lap behind the writer: every block is ahead of the tap.
		n = a.numBlocks
	}
	return first, n
}

// ValidIndices returns the complete blocks from the tap's block forward to
// the ring's last updated block.
func (t *AnnotatedTap) ValidIndices() ([]int, error) {
	a, err := t.annotated()
	if err != nil {
		return nil, err
	}
	first, n := t.validSpan(a)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = mod(first+i, a.numBlocks)
	}
	return indices, nil
}

// PreviousValidIndices returns the complete blocks behind the tap that have
// not been overwritten yet, newest first.
func (t *AnnotatedTap) PreviousValidIndices() ([]int, error) {
	a, err := t.annotated()
	if err != nil {
		return nil, err
	}
	first, n := t.validSpan(a)
	if n == a.numBlocks {
		return []int{}, nil
	}
	oldest := a.index/a.blockSize + 1
	if a.index%a.blockSize == 0 {
		oldest = a.index / a.blockSize
	}
	count := mod(first-oldest, a.numBlocks)
	indices := make([]int, count)
	for i := range indices {
		indices[i] = mod(first-1-i, a.numBlocks)
	}
	return indices, nil
}

// SamplesToNextTransient returns the distance from the cursor to the start
// of the next transient block inside the valid window.
func (t *AnnotatedTap) SamplesToNextTransient() (int, bool, error) {
	a, err := t.annotated()
	if err != nil {
		return 0, false, err
	}
	first, n := t.validSpan(a)
	for i := range n {
		block := mod(first+i, a.numBlocks)
		if i == 0 && t.index%a.blockSize != 0 {
			// The block start is behind the cursor.
			continue
		}
		if a.transient[block] {
			return mod(block*a.blockSize-t.index, a.length), true, nil
		}
	}
	return 0, false, nil
}

// EnergyDb returns the per-sample energy, in dB, of the most recent complete
// block at or behind the cursor.
func (t *AnnotatedTap) EnergyDb() (float64, error) {
	a, err := t.annotated()
	if err != nil {
		return 0, err
	}
	block := t.index / a.blockSize
	if block == a.index/a.blockSize && t.index < a.index {
		block = mod(block-1, a.numBlocks)
	}
	return 10 * math.Log10(eps+a.energy[block]/float64(a.blockSize)), nil
}

// EnergyUnit returns EnergyDb clipped to [EnergyFloorDb, EnergyCeilDb] and
// scaled to [0, 1].
func (t *AnnotatedTap) EnergyUnit() (float64, error) {
	db, err := t.EnergyDb()
	if err != nil {
		return 0, err
	}
	db = min(max(db, EnergyFloorDb), EnergyCeilDb)
	return (db - EnergyFloorDb) / (EnergyCeilDb - EnergyFloorDb), nil
}
