// Package boxpool manages a fixed set of numbered sandbox workspaces.
package boxpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"chainjudge/pkg/errors"
)

// Box is one leased sandbox workspace. A box is owned by exactly one
// worker between Acquire and Release.
type Box struct {
	ID  int
	Dir string
}

// Pool hands out boxes to workers. The pool size bounds judging
// concurrency: with fewer boxes than workers, surplus workers block in
// Acquire until a box frees up.
type Pool struct {
	root  string
	size  int
	boxes chan *Box
}

// NewPool creates size boxes under root, wiping any leftover state from
// a previous run.
func NewPool(root string, size int) (*Pool, error) {
	if root == "" {
		return nil, errors.New(errors.InvalidParams).WithMessage("box root is required")
	}
	if size <= 0 {
		return nil, errors.Newf(errors.InvalidParams, "box pool size must be positive, got %d", size)
	}

	p := &Pool{
		root:  root,
		size:  size,
		boxes: make(chan *Box, size),
	}
	for i := 0; i < size; i++ {
		box := &Box{ID: i, Dir: filepath.Join(root, "box-"+strconv.Itoa(i))}
		if err := resetDir(box.Dir); err != nil {
			return nil, errors.Wrapf(err, errors.SandboxUnavailable, "prepare box %d", i)
		}
		p.boxes <- box
	}
	return p, nil
}

// Acquire blocks until a box is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Box, error) {
	select {
	case box := <-p.boxes:
		return box, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.BoxExhausted)
	}
}

// Release wipes the box workspace and returns it to the pool. The box
// must not be used after release.
func (p *Pool) Release(box *Box) {
	if box == nil {
		return
	}
	_ = resetDir(box.Dir)
	p.boxes <- box
}

// Size returns the number of boxes in the pool.
func (p *Pool) Size() int {
	return p.size
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wipe box dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create box dir: %w", err)
	}
	return nil
}
