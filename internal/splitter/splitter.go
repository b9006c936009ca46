// Package splitter cuts a completed download into size-bounded parts for
// a destination that caps single payloads. The cut is streaming: each
// part is materialized, handed to the caller, and removed once the
// caller is done with it, so at most two parts' worth of disk is live at
// any moment.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var ErrInvalidPartSize = errors.New("splitter: max part size must be positive")

// Range is a contiguous byte range [Start, End) of the source file.
type Range struct {
	Index int
	Start int64
	End   int64
}

// Size returns the range length in bytes.
func (r Range) Size() int64 { return r.End - r.Start }

// Part is a materialized range written to its own temp file.
type Part struct {
	Range
	Count int
	Path  string
}

// Plan computes the part layout for a file of the given size. Every part
// except the last is exactly maxPart bytes; the last absorbs the
// remainder. A zero-byte file yields exactly one zero-byte part.
func Plan(size, maxPart int64) ([]Range, error) {
	if maxPart <= 0 {
		return nil, ErrInvalidPartSize
	}
	if size < 0 {
		return nil, fmt.Errorf("splitter: negative size %d", size)
	}
	if size == 0 {
		return []Range{{Index: 0, Start: 0, End: 0}}, nil
	}

	count := size / maxPart
	if size%maxPart != 0 {
		count++
	}

	ranges := make([]Range, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * maxPart
		end := start + maxPart
		if end > size {
			end = size
		}
		ranges = append(ranges, Range{Index: int(i), Start: start, End: end})
	}
	return ranges, nil
}

// PartName returns the deterministic file name for a part, so a crash
// mid-transfer is diagnosable by inspecting the work directory.
func PartName(base string, index int) string {
	return fmt.Sprintf("%s.part%03d", base, index)
}

// Split cuts srcPath into parts under dir and invokes deliver for each
// one in order. The part file is deleted after deliver returns nil; a
// deliver error stops the split and leaves that part on disk for
// inspection.
func Split(ctx context.Context, srcPath, dir string, maxPart int64, deliver func(ctx context.Context, p Part) error) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}

	ranges, err := Plan(info.Size(), maxPart)
	if err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	base := filepath.Base(srcPath)

	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := Part{
			Range: r,
			Count: len(ranges),
			Path:  filepath.Join(dir, PartName(base, r.Index)),
		}

		if err := writePart(src, p); err != nil {
			return err
		}

		if err := deliver(ctx, p); err != nil {
			return err
		}

		if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

func writePart(src io.Reader, p Part) error {
	out, err := os.Create(p.Path)
	if err != nil {
		return err
	}

	if _, err := io.CopyN(out, src, p.Size()); err != nil {
		out.Close()
		return fmt.Errorf("splitter: writing part %d: %w", p.Index, err)
	}

	return out.Close()
}
