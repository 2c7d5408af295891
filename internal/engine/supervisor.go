// Package engine supervises one external UCI analysis-engine process and
// multiplexes concurrent evaluate calls onto its serial command stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/blunderlab/blunderlab/internal/analysis"
)

// MateScore folds forced-mate scores onto the centipawn scale: a mate in
// N plies becomes ±(MateScore − N).
const MateScore = 100000

const defaultEvalTimeout = 30 * time.Second

// Config controls Supervisor behavior.
type Config struct {
	// Name is the logical engine name used as the queue key.
	Name string
	// BinaryPath locates the engine executable.
	BinaryPath string
	// StartTimeout bounds the launch handshake.
	StartTimeout time.Duration
	// EvalTimeout bounds one search round trip.
	EvalTimeout time.Duration
	// HashMB sizes the engine's transposition table when > 0.
	HashMB int
	// MultiPV asks the engine for this many principal variations when
	// > 1. Only the best line feeds the evaluation.
	MultiPV int
}

type evalRequest struct {
	fen   string
	depth int
	reply chan evalReply
}

type evalReply struct {
	eval analysis.Evaluation
	err  error
}

// Supervisor exclusively owns one engine process. The protocol has no
// request IDs, so a dedicated goroutine issues one search at a time and
// matches output lines against the request at the head of the queue;
// concurrent callers rendezvous with it over an unbuffered channel.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger
	proc   process

	requests chan evalRequest
	stopCh   chan struct{}
	done     chan struct{}

	stopOnce sync.Once
	stopping atomic.Bool
	started  bool

	idName string
}

// New constructs a Supervisor for the configured binary. Call Start
// before Evaluate.
func New(cfg Config, logger *zap.Logger) (*Supervisor, error) {
	path, err := ResolveBinary(cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEngineStart, err)
	}
	return newWithProcess(cfg, newExecProcess(path), logger), nil
}

func newWithProcess(cfg Config, proc process, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = defaultEvalTimeout
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   logger,
		proc:     proc,
		requests: make(chan evalRequest),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start spawns the process and performs the UCI handshake within the
// configured timeout. It fails with ErrEngineStart on timeout or early
// process exit.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("%w: already started", ErrEngineStart)
	}
	if err := s.proc.Start(); err != nil {
		return fmt.Errorf("%w: %s", ErrEngineStart, err)
	}

	timeout := s.cfg.StartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if err := s.handshake(ctx, deadline.C); err != nil {
		s.proc.Kill()
		return err
	}

	s.started = true
	go s.run()
	s.logger.Info("engine ready",
		zap.String("engine", s.Name()),
		zap.String("version", s.Version()),
	)
	return nil
}

func (s *Supervisor) handshake(ctx context.Context, deadline <-chan time.Time) error {
	if err := s.proc.Send("uci"); err != nil {
		return fmt.Errorf("%w: %s", ErrEngineStart, err)
	}
	if err := s.awaitLine(ctx, deadline, "uciok"); err != nil {
		return err
	}
	if s.cfg.HashMB > 0 {
		if err := s.proc.Send(fmt.Sprintf("setoption name Hash value %d", s.cfg.HashMB)); err != nil {
			return fmt.Errorf("%w: %s", ErrEngineStart, err)
		}
	}
	if s.cfg.MultiPV > 1 {
		if err := s.proc.Send(fmt.Sprintf("setoption name MultiPV value %d", s.cfg.MultiPV)); err != nil {
			return fmt.Errorf("%w: %s", ErrEngineStart, err)
		}
	}
	if err := s.proc.Send("isready"); err != nil {
		return fmt.Errorf("%w: %s", ErrEngineStart, err)
	}
	if err := s.awaitLine(ctx, deadline, "readyok"); err != nil {
		return err
	}
	if err := s.proc.Send("ucinewgame"); err != nil {
		return fmt.Errorf("%w: %s", ErrEngineStart, err)
	}
	return nil
}

// awaitLine consumes output until the expected acknowledgment, capturing
// the "id name" banner along the way.
func (s *Supervisor) awaitLine(ctx context.Context, deadline <-chan time.Time, want string) error {
	for {
		select {
		case line, ok := <-s.proc.Lines():
			if !ok {
				return fmt.Errorf("%w: process exited during handshake", ErrEngineStart)
			}
			if rest, found := strings.CutPrefix(line, "id name "); found {
				s.idName = strings.TrimSpace(rest)
			}
			if strings.TrimSpace(line) == want {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("%w: timed out waiting for %q", ErrEngineStart, want)
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrEngineStart, ctx.Err())
		}
	}
}

// Evaluate searches one position. Calls are safe from any number of
// goroutines; each search is issued only after the prior one's terminal
// response has been observed. The returned score always favors White
// positive, regardless of the side to move.
func (s *Supervisor) Evaluate(ctx context.Context, fen string, depth int) (analysis.Evaluation, error) {
	if !s.started {
		return analysis.Evaluation{}, fmt.Errorf("%w: not started", ErrEngineStart)
	}
	if fen == "" {
		return analysis.Evaluation{}, fmt.Errorf("empty fen")
	}
	if depth < 1 {
		depth = 1
	}
	req := evalRequest{fen: fen, depth: depth, reply: make(chan evalReply, 1)}

	select {
	case s.requests <- req:
	case <-s.done:
		return analysis.Evaluation{}, s.terminalErr()
	case <-ctx.Done():
		return analysis.Evaluation{}, ctx.Err()
	}

	select {
	case rep := <-req.reply:
		return rep.eval, rep.err
	case <-ctx.Done():
		// The search keeps running; its result is discarded when it
		// lands. The caller's context governs only the caller's wait.
		return analysis.Evaluation{}, ctx.Err()
	}
}

// Stop terminates the process, gracefully first. It is idempotent and
// always safe; pending callers are rejected.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		close(s.stopCh)
		_ = s.proc.Send("quit")
		s.proc.Kill()
	})
}

// Name reports the logical engine name used as the queue key.
func (s *Supervisor) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	if s.idName != "" {
		return s.idName
	}
	return "unknown"
}

// Version reports the engine's self-identification from the handshake.
func (s *Supervisor) Version() string {
	if s.idName != "" {
		return s.idName
	}
	return "unknown"
}

func (s *Supervisor) terminalErr() error {
	if s.stopping.Load() {
		return ErrEngineStopped
	}
	return ErrEngineCrash
}

func (s *Supervisor) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			rep := s.search(req)
			req.reply <- rep
			if rep.err != nil && (errors.Is(rep.err, ErrEngineCrash) || errors.Is(rep.err, ErrEngineStopped)) {
				return
			}
		case <-s.stopCh:
			return
		}
	}
}

// search drives one position/go exchange and scans output until the
// terminal bestmove line.
func (s *Supervisor) search(req evalRequest) evalReply {
	if err := s.proc.Send("position fen " + req.fen); err != nil {
		s.proc.Kill()
		return evalReply{err: fmt.Errorf("%w: %s", s.terminalErr(), err)}
	}
	if err := s.proc.Send(fmt.Sprintf("go depth %d", req.depth)); err != nil {
		s.proc.Kill()
		return evalReply{err: fmt.Errorf("%w: %s", s.terminalErr(), err)}
	}

	timer := time.NewTimer(s.cfg.EvalTimeout)
	defer timer.Stop()

	var best searchInfo
	for {
		select {
		case line, ok := <-s.proc.Lines():
			if !ok {
				return evalReply{err: fmt.Errorf("%w: process exited mid-search", s.terminalErr())}
			}
			if info, ok := parseInfo(line); ok {
				best = info
			}
			if strings.HasPrefix(line, "bestmove") {
				if !best.hasScore {
					return evalReply{err: fmt.Errorf("%w: no score before bestmove", ErrEngineCrash)}
				}
				return evalReply{eval: best.toEvaluation(req.fen)}
			}
		case <-timer.C:
			s.proc.Kill()
			return evalReply{err: fmt.Errorf("%w: search exceeded %s", ErrEngineCrash, s.cfg.EvalTimeout)}
		}
	}
}

type searchInfo struct {
	depth    int
	cp       int
	mate     int
	pv       string
	hasScore bool
}

// toEvaluation normalizes the side-to-move-relative UCI score onto an
// absolute White-positive scale.
func (i searchInfo) toEvaluation(fen string) analysis.Evaluation {
	cp, mate := i.cp, i.mate
	if sideToMove(fen) == "b" {
		cp, mate = -cp, -mate
	}
	if mate != 0 {
		if mate > 0 {
			cp = MateScore - mate
		} else {
			cp = -MateScore - mate
		}
	}
	return analysis.Evaluation{CP: cp, MateIn: mate, PV: i.pv, Depth: i.depth}
}

// parseInfo extracts depth, score and pv from a UCI "info" line. When
// MultiPV is active only the best line (multipv 1) counts.
func parseInfo(line string) (searchInfo, bool) {
	if !strings.HasPrefix(line, "info ") {
		return searchInfo{}, false
	}
	tokens := strings.Fields(line)
	var info searchInfo
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "multipv":
			if i+1 < len(tokens) && tokens[i+1] != "1" {
				return searchInfo{}, false
			}
			i++
		case "depth":
			if i+1 < len(tokens) {
				info.depth, _ = strconv.Atoi(tokens[i+1])
				i++
			}
		case "score":
			if i+2 < len(tokens) {
				value, err := strconv.Atoi(tokens[i+2])
				if err == nil {
					switch tokens[i+1] {
					case "cp":
						info.cp = value
						info.hasScore = true
					case "mate":
						info.mate = value
						info.hasScore = true
					}
				}
				i += 2
			}
		case "pv":
			if i+1 < len(tokens) {
				info.pv = strings.Join(tokens[i+1:], " ")
			}
			i = len(tokens)
		}
	}
	return info, info.hasScore
}

func sideToMove(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 1 {
		return fields[1]
	}
	return "w"
}
