package tail

import (
	"bufio"
	"context"
	"io"
)

const maxLineSize = 1 << 20

// Consume feeds every line read from r until EOF or ctx is done.
func Consume(ctx context.Context, r io.Reader, f *Feeder) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.Feed(ctx, sc.Text())
	}
	return sc.Err()
}
