package build

import (
	"bufio"
	"io"
	"os"

	"go.uber.org/multierr"
)

// writeFile creates path and hands a buffered writer to fn. The file is
// always closed, and removed again if anything failed, so no partial output
// is left behind.
func writeFile(path string, fn func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
		if err != nil {
			os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		return err
	}
	return bw.Flush()
}
