package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blunderlab/blunderlab/internal/analysis"
)

// scriptedEngine replies with a fixed centipawn sequence: one score for
// the baseline position, then one per evaluated ply.
type scriptedEngine struct {
	cps   []int
	calls int
	err   error
}

func (s *scriptedEngine) Evaluate(_ context.Context, fen string, depth int) (analysis.Evaluation, error) {
	if s.err != nil {
		return analysis.Evaluation{}, s.err
	}
	idx := s.calls
	if idx >= len(s.cps) {
		idx = len(s.cps) - 1
	}
	s.calls++
	return analysis.Evaluation{CP: s.cps[idx], Depth: depth, PV: "e2e4"}, nil
}

func (s *scriptedEngine) Name() string    { return "stub" }
func (s *scriptedEngine) Version() string { return "stub 1" }
func (s *scriptedEngine) Stop()           {}

func TestAnalyzeFlagsBlunders(t *testing.T) {
	t.Parallel()

	game := analysis.Game{
		ID:       1,
		White:    "alice",
		Black:    "bob",
		MoveText: "1. e4 e5 2. Nf3 Nc6",
	}
	// Baseline 30, then plies 1-4. Ply 4 jumps 20 -> 350 in White's
	// favor: Black's move lost 330cp and must be flagged.
	engine := &scriptedEngine{cps: []int{30, 35, 20, 20, 350}}

	ev := New(engine, Config{BlunderThresholdCP: 200, Username: "alice"}, nil)
	report, err := ev.Analyze(context.Background(), game, 12)
	require.NoError(t, err)

	require.Len(t, report.Evaluations, 4)
	assert.Equal(t, []int{4}, report.BlunderPlies)
	assert.Equal(t, 1, report.Blunders)
	assert.True(t, report.Evaluations[3].IsBlunder)
	assert.False(t, report.Evaluations[0].IsBlunder)

	first := report.Evaluations[0]
	assert.Equal(t, 1, first.Ply)
	assert.Equal(t, 1, first.MoveNumber)
	assert.Equal(t, "e4", first.SAN)
	assert.Equal(t, 2, report.Evaluations[2].MoveNumber)

	assert.Equal(t, "white", report.UserColor)
	// White's losses: ply1 30->35 (0), ply3 20->20 (0). Perfect score.
	require.NotNil(t, report.Accuracy)
	assert.InDelta(t, 100.0, *report.Accuracy, 0.001)

	// Baseline + one call per ply.
	assert.Equal(t, 5, engine.calls)
}

func TestAnalyzeAccuracyForBlack(t *testing.T) {
	t.Parallel()

	game := analysis.Game{
		White:    "alice",
		Black:    "bob",
		MoveText: "1. e4 e5 2. Nf3 Nc6",
	}
	// Black's plies are 2 and 4: 35->135 (100 loss) and 135->135 (0).
	engine := &scriptedEngine{cps: []int{30, 35, 135, 135, 135}}

	ev := New(engine, Config{BlunderThresholdCP: 200, Username: "BOB"}, nil)
	report, err := ev.Analyze(context.Background(), game, 12)
	require.NoError(t, err)

	assert.Equal(t, "black", report.UserColor)
	require.NotNil(t, report.Accuracy)
	// avg loss 50 -> 100 - 25 = 75
	assert.InDelta(t, 75.0, *report.Accuracy, 0.001)
}

func TestAnalyzeZeroMoveGame(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{cps: []int{0}}
	ev := New(engine, Config{}, nil)

	report, err := ev.Analyze(context.Background(), analysis.Game{MoveText: "   "}, 12)
	require.NoError(t, err)
	assert.Empty(t, report.Evaluations)
	assert.Zero(t, engine.calls)
}

func TestAnalyzeInvalidMoveText(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{cps: []int{0}}
	ev := New(engine, Config{}, nil)

	_, err := ev.Analyze(context.Background(), analysis.Game{MoveText: "1. e4 Ke4 2. zz9"}, 12)
	require.ErrorIs(t, err, analysis.ErrInvalidGame)
}

func TestAnalyzePropagatesEngineErrors(t *testing.T) {
	t.Parallel()

	engineErr := errors.New("engine process died")
	ev := New(&scriptedEngine{err: engineErr}, Config{}, nil)

	_, err := ev.Analyze(context.Background(), analysis.Game{MoveText: "1. e4 e5"}, 12)
	require.ErrorIs(t, err, engineErr)
}

func TestSampleIndices(t *testing.T) {
	t.Parallel()

	all := sampleIndices(5, 10)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, all)

	sampled := sampleIndices(100, 10)
	require.Len(t, sampled, 10)
	assert.Equal(t, 100, sampled[len(sampled)-1])
	for i := 1; i < len(sampled); i++ {
		assert.Greater(t, sampled[i], sampled[i-1])
	}

	unbounded := sampleIndices(3, 0)
	assert.Equal(t, []int{1, 2, 3}, unbounded)
}

func TestDeriveOpeningName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"explicit opening wins", map[string]string{"Opening": "Sicilian Defense", "ECO": "B20"}, "Sicilian Defense"},
		{"eco url segment", map[string]string{"ECOUrl": "https://www.chess.com/openings/Queens-Gambit-Declined"}, "Queens Gambit Declined"},
		{"eco code fallback", map[string]string{"ECO": "C42"}, "ECO C42"},
		{"nothing known", map[string]string{}, ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, deriveOpeningName(tc.headers))
		})
	}
}
