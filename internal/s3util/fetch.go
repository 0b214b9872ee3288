package s3util

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/scratch"
	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
)

// ObjectRef identifies the object that triggered a run.
type ObjectRef struct {
	Bucket string
	Key    string
}

func (r ObjectRef) String() string {
	return "s3://" + r.Bucket + "/" + r.Key
}

// FetchArchive downloads the triggering object into ws as <stem>.json.gz
// and returns the local path. The key must end in .json.gz.
func FetchArchive(ctx context.Context, client ObjectGetter, ref ObjectRef, ws *scratch.Workspace) (string, error) {
	stem, err := scratch.KeyStem(ref.Key)
	if err != nil {
		return "", err
	}

	start := time.Now()
	localPath := ws.ArchivePath(stem)
	n, err := DownloadToFile(ctx, client, ref.Bucket, ref.Key, localPath)
	if err != nil {
		msg := "fetch " + ref.String()
		if IsNotFound(err) {
			msg += " (not found)"
		}
		return "", stageerr.New(stageerr.FetchError, msg, err)
	}

	log.Debug().
		Str("object", ref.String()).
		Str("localPath", localPath).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("Object fetched")
	return localPath, nil
}
