// Package archive inflates gzip-compressed log files fetched to scratch.
package archive

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
)

// Suffix is the archive extension stripped from the input to name the output.
const Suffix = ".gz"

// OutputPath returns the sibling path the decompressed file is written to:
// "/tmp/run/abc.json.gz" becomes "/tmp/run/abc.json".
func OutputPath(inPath string) (string, error) {
	if !strings.HasSuffix(inPath, Suffix) || len(inPath) == len(Suffix) {
		return "", fmt.Errorf("%s does not end in %s", inPath, Suffix)
	}
	return strings.TrimSuffix(inPath, Suffix), nil
}

// Gunzip decompresses inPath into its sibling output file and returns the
// output path. A partially written output is removed on failure.
func Gunzip(inPath string) (string, error) {
	start := time.Now()
	outPath, err := OutputPath(inPath)
	if err != nil {
		return "", stageerr.New(stageerr.DecompressError, "derive output name", err)
	}

	log.Debug().Str("input", inPath).Str("output", outPath).Msg("Decompressing")

	in, err := os.Open(inPath)
	if err != nil {
		return "", stageerr.New(stageerr.DecompressError, "open "+inPath, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", stageerr.New(stageerr.DecompressError, "read gzip header", err)
	}
	defer zr.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return "", stageerr.New(stageerr.DecompressError, "create "+outPath, err)
	}

	n, copyErr := io.Copy(out, zr)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(outPath)
		return "", stageerr.New(stageerr.DecompressError, "inflate "+inPath, copyErr)
	}

	log.Debug().
		Str("output", outPath).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("Decompressed")
	return outPath, nil
}
