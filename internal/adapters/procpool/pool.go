// Package procpool runs image decodes in separate OS processes so that a
// codec crash cannot take down the host. Each worker is a copy of the
// running binary invoked with the hidden `worker` subcommand, speaking a
// framed gob protocol over its stdin/stdout.
package procpool

import (
	"context"
	"encoding/gob"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/core/ports"
	"go.trai.ch/zerr"
)

// WorkerArg is the subcommand workers are spawned with.
const WorkerArg = "worker"

type proc struct {
	enc  *gob.Encoder
	dec  *gob.Decoder
	stop func()
}

type job struct {
	req   request
	reply chan response
}

// Pool is a fixed-size pool of decode worker processes implementing
// ports.Decoder. A worker that crashes mid-request yields
// domain.ErrWorkerCrashed for that one request and is respawned.
type Pool struct {
	log   ports.Logger
	jobs  chan job
	done  chan struct{}
	wg    sync.WaitGroup
	spawn func() (*proc, error)

	closeOnce sync.Once
	nextID    atomic.Uint64
}

// New starts a pool of size worker processes.
func New(size int, log ports.Logger) (*Pool, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to determine executable path")
	}
	return newPool(size, log, func() (*proc, error) { return spawnProcess(exe) })
}

func newPool(size int, log ports.Logger, spawn func() (*proc, error)) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		log:   log,
		jobs:  make(chan job),
		done:  make(chan struct{}),
		spawn: spawn,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p, nil
}

func spawnProcess(exe string) (*proc, error) {
	cmd := exec.Command(exe, WorkerArg) //nolint:gosec // own executable, fixed args
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to open worker stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, zerr.Wrap(err, "failed to start decode worker")
	}

	return &proc{
		enc: gob.NewEncoder(stdin),
		dec: gob.NewDecoder(stdout),
		stop: func() {
			_ = stdin.Close()
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		},
	}, nil
}

// runWorker owns one child process: it is the only goroutine writing to or
// reading from that child, so the framed protocol never interleaves.
func (p *Pool) runWorker() {
	defer p.wg.Done()

	var child *proc
	defer func() {
		if child != nil {
			child.stop()
		}
	}()

	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			if child == nil {
				var err error
				if child, err = p.spawn(); err != nil {
					j.reply <- response{ID: j.req.ID, ErrKind: errOther, ErrMsg: err.Error()}
					continue
				}
			}

			resp, err := child.roundTrip(j.req)
			if err != nil {
				// The child is in an unknown state; discard it and let the
				// next job trigger a respawn.
				p.log.Warn("decode worker crashed", "error", err)
				child.stop()
				child = nil
				j.reply <- response{ID: j.req.ID, ErrKind: errOther, ErrMsg: domain.ErrWorkerCrashed.Error()}
				continue
			}
			j.reply <- resp
		}
	}
}

func (c *proc) roundTrip(req request) (response, error) {
	if err := c.enc.Encode(req); err != nil {
		return response{}, err
	}
	var resp response
	if err := c.dec.Decode(&resp); err != nil {
		return response{}, err
	}
	if resp.ID != req.ID {
		return response{}, zerr.With(zerr.With(zerr.New("worker protocol desync"), "want", req.ID), "got", resp.ID)
	}
	return resp, nil
}

// Decode implements ports.Decoder by dispatching to a worker process.
func (p *Pool) Decode(ctx context.Context, path string, targetW, targetH int) (*domain.Decoded, error) {
	j := job{
		req: request{
			ID:      p.nextID.Add(1),
			Path:    path,
			TargetW: targetW,
			TargetH: targetH,
		},
		reply: make(chan response, 1),
	}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, domain.ErrEngineClosed
	}

	select {
	case resp := <-j.reply:
		return unpack(resp)
	case <-ctx.Done():
		// The worker finishes the decode on its own; the reply channel is
		// buffered so it never blocks on an abandoned caller.
		return nil, ctx.Err()
	}
}

func unpack(resp response) (*domain.Decoded, error) {
	switch resp.ErrKind {
	case errNone:
		return &domain.Decoded{Data: resp.Data, Width: resp.Width, Height: resp.Height}, nil
	case errUnsupported:
		return nil, zerr.Wrap(domain.ErrUnsupportedFormat, resp.ErrMsg)
	case errCorrupt:
		return nil, zerr.Wrap(domain.ErrCorruptImage, resp.ErrMsg)
	default:
		if resp.ErrMsg == domain.ErrWorkerCrashed.Error() {
			return nil, domain.ErrWorkerCrashed
		}
		return nil, zerr.New(resp.ErrMsg)
	}
}

// Close stops all workers. In-flight requests receive worker-crash errors
// if their child is killed before responding.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}
