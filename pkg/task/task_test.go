package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag/stardag/pkg/target"
)

type trainModel struct {
	Dataset string  `json:"dataset"`
	Seed    int     `json:"seed"`
	Epochs  *int    `json:"epochs,omitempty"`
	Comment string  `json:"comment" hash:"-"`
	LR      float64 `json:"lr"`
}

func (t *trainModel) Family() string            { return "examples/train-model" }
func (t *trainModel) Run(context.Context) error { return nil }
func (t *trainModel) Output() target.Target     { return nil }

type versionedTask struct {
	Input string `json:"input"`
}

func (t *versionedTask) Family() string            { return "examples/versioned" }
func (t *versionedTask) Run(context.Context) error { return nil }
func (t *versionedTask) Output() target.Target     { return nil }
func (t *versionedTask) TaskVersion() string       { return "2" }

func TestIDStableAcrossInstances(t *testing.T) {
	a := &trainModel{Dataset: "iris", Seed: 7, LR: 0.01}
	b := &trainModel{LR: 0.01, Seed: 7, Dataset: "iris"}

	idA, err := ID(a)
	require.NoError(t, err)
	idB, err := ID(b)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
	assert.Len(t, idA, 64)
}

func TestIDSensitiveToParams(t *testing.T) {
	base := &trainModel{Dataset: "iris", Seed: 7, LR: 0.01}
	changed := &trainModel{Dataset: "iris", Seed: 8, LR: 0.01}

	idBase, err := ID(base)
	require.NoError(t, err)
	idChanged, err := ID(changed)
	require.NoError(t, err)
	assert.NotEqual(t, idBase, idChanged)
}

func TestIDIgnoresHashExcludedFields(t *testing.T) {
	a := &trainModel{Dataset: "iris", Comment: "first attempt"}
	b := &trainModel{Dataset: "iris", Comment: "retry after crash"}

	idA, err := ID(a)
	require.NoError(t, err)
	idB, err := ID(b)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
}

func TestNilOptionalDoesNotChangeID(t *testing.T) {
	// A nil optional must hash the same as a task type that never had the
	// field; setting it must change the hash.
	withoutEpochs := &trainModel{Dataset: "iris"}
	epochs := 10
	withEpochs := &trainModel{Dataset: "iris", Epochs: &epochs}

	idWithout, err := ID(withoutEpochs)
	require.NoError(t, err)
	idWith, err := ID(withEpochs)
	require.NoError(t, err)
	assert.NotEqual(t, idWithout, idWith)
}

func TestVersionParticipatesInID(t *testing.T) {
	idV, err := ID(&versionedTask{Input: "x"})
	require.NoError(t, err)

	plain := &trainModel{Dataset: "x"}
	idPlain, err := ID(plain)
	require.NoError(t, err)
	assert.NotEqual(t, idV, idPlain)
}

func TestSerializeDecodeRoundTrip(t *testing.T) {
	Register(&trainModel{})

	epochs := 3
	original := &trainModel{Dataset: "mnist", Seed: 42, Epochs: &epochs, LR: 0.1}
	wire, err := Serialize(original)
	require.NoError(t, err)
	assert.Equal(t, "examples/train-model", wire.Family)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	restored, ok := decoded.(*trainModel)
	require.True(t, ok)
	assert.Equal(t, original.Dataset, restored.Dataset)
	assert.Equal(t, *original.Epochs, *restored.Epochs)

	decodedID, err := ID(decoded)
	require.NoError(t, err)
	assert.Equal(t, wire.ID, decodedID)
}

func TestSplitFamily(t *testing.T) {
	ns, name := SplitFamily("examples/etl/extract")
	assert.Equal(t, "examples/etl", ns)
	assert.Equal(t, "extract", name)

	ns, name = SplitFamily("bare")
	assert.Equal(t, "", ns)
	assert.Equal(t, "bare", name)
}

func TestSerializeCarriesVersion(t *testing.T) {
	wire, err := Serialize(&versionedTask{Input: "x"})
	require.NoError(t, err)
	require.NotNil(t, wire.Version)
	assert.Equal(t, "2", *wire.Version)
}

func TestDecodeUnknownFamily(t *testing.T) {
	_, err := Decode(Serialized{Family: "nope/missing"})
	assert.Error(t, err)
}
