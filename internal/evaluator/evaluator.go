// Package evaluator replays stored games and drives per-ply engine
// evaluation, flagging blunders and scoring user accuracy.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/notnil/chess"
	"go.uber.org/zap"

	"github.com/blunderlab/blunderlab/internal/analysis"
)

// Config tunes evaluation behavior.
type Config struct {
	// BlunderThresholdCP flags a ply when the evaluation swings against
	// the mover by more than this many centipawns.
	BlunderThresholdCP int
	// MaxPositions bounds engine time on very long games by evaluating
	// an evenly strided sample of plies. <= 0 disables sampling.
	MaxPositions int
	// Username identifies which side's moves feed the accuracy score.
	Username string
}

// Report is the outcome of analyzing one game.
type Report struct {
	Evaluations  []analysis.PlyEvaluation
	BlunderPlies []int
	Blunders     int
	UserColor    string
	Accuracy     *float64
	OpeningName  string
}

// Evaluator runs one game at a time against an engine supervisor.
type Evaluator struct {
	engine analysis.Engine
	cfg    Config
	logger *zap.Logger
}

// New constructs an Evaluator.
func New(engine analysis.Engine, cfg Config, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlunderThresholdCP <= 0 {
		cfg.BlunderThresholdCP = 200
	}
	return &Evaluator{engine: engine, cfg: cfg, logger: logger}
}

// Analyze replays the game's moves and evaluates each sampled position.
// Unparseable or illegal move text yields analysis.ErrInvalidGame; a
// zero-move game yields an empty report, not an error. Engine failures
// propagate unwrapped so the caller can distinguish crash from start.
func (e *Evaluator) Analyze(ctx context.Context, game analysis.Game, depth int) (Report, error) {
	report := Report{
		UserColor:   identifyUserColor(game, e.cfg.Username),
		OpeningName: deriveOpeningName(game.Headers),
	}

	if strings.TrimSpace(game.MoveText) == "" {
		return report, nil
	}

	parsed, err := replay(game.MoveText)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %s", analysis.ErrInvalidGame, err)
	}
	moves := parsed.Moves()
	positions := parsed.Positions()
	if len(moves) == 0 {
		return report, nil
	}

	plies := sampleIndices(len(moves), e.cfg.MaxPositions)

	baseline, err := e.engine.Evaluate(ctx, positions[0].String(), depth)
	if err != nil {
		return Report{}, err
	}
	prevCP := baseline.CP

	notation := chess.AlgebraicNotation{}
	var losses []int
	for _, ply := range plies {
		before := positions[ply-1]
		after := positions[ply]
		eval, err := e.engine.Evaluate(ctx, after.String(), depth)
		if err != nil {
			return Report{}, err
		}

		mover := colorString(before.Turn())
		loss := centipawnLoss(prevCP, eval.CP, mover)
		isBlunder := loss > e.cfg.BlunderThresholdCP

		record := analysis.PlyEvaluation{
			Ply:        ply,
			MoveNumber: (ply + 1) / 2,
			SAN:        notation.Encode(before, moves[ply-1]),
			FEN:        after.String(),
			CP:         eval.CP,
			MateIn:     eval.MateIn,
			PV:         eval.PV,
			Depth:      eval.Depth,
			IsBlunder:  isBlunder,
		}
		report.Evaluations = append(report.Evaluations, record)

		if isBlunder {
			report.BlunderPlies = append(report.BlunderPlies, ply)
			report.Blunders++
		}
		if report.UserColor != "" && mover == report.UserColor {
			losses = append(losses, loss)
		}
		prevCP = eval.CP
	}

	report.Accuracy = accuracyFromLosses(losses)
	return report, nil
}

// replay decodes SAN movetext into a fully replayed game.
func replay(moveText string) (*chess.Game, error) {
	pgn, err := chess.PGN(strings.NewReader(moveText + "\n"))
	if err != nil {
		return nil, err
	}
	return chess.NewGame(pgn), nil
}

// sampleIndices picks the plies to evaluate: every ply when the game
// fits the budget, otherwise an even stride that always keeps the final
// position.
func sampleIndices(plies, maxPositions int) []int {
	if maxPositions <= 0 || plies <= maxPositions {
		out := make([]int, plies)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}
	out := make([]int, 0, maxPositions)
	step := float64(plies) / float64(maxPositions)
	last := 0
	for i := 1; i <= maxPositions; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx <= last {
			idx = last + 1
		}
		if idx > plies {
			break
		}
		out = append(out, idx)
		last = idx
	}
	if out[len(out)-1] != plies {
		out[len(out)-1] = plies
	}
	return out
}

// centipawnLoss measures how much the move cost its mover, floored at
// zero. Scores are White-positive, so Black's loss is the negated swing.
func centipawnLoss(beforeCP, afterCP int, mover string) int {
	loss := beforeCP - afterCP
	if mover == "black" {
		loss = -loss
	}
	if loss < 0 {
		return 0
	}
	return loss
}

// accuracyFromLosses maps average centipawn loss onto a 0-100 scale.
func accuracyFromLosses(losses []int) *float64 {
	if len(losses) == 0 {
		return nil
	}
	sum := 0
	for _, l := range losses {
		sum += l
	}
	avg := float64(sum) / float64(len(losses))
	acc := 100.0 - avg/2.0
	if acc < 0 {
		acc = 0
	}
	if acc > 100 {
		acc = 100
	}
	return &acc
}

func identifyUserColor(game analysis.Game, username string) string {
	normalized := strings.ToLower(strings.TrimSpace(username))
	if normalized == "" {
		return ""
	}
	if strings.ToLower(strings.TrimSpace(game.White)) == normalized {
		return "white"
	}
	if strings.ToLower(strings.TrimSpace(game.Black)) == normalized {
		return "black"
	}
	return ""
}

func colorString(c chess.Color) string {
	if c == chess.Black {
		return "black"
	}
	return "white"
}
