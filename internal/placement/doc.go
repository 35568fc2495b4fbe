// Package placement turns classified artifacts into files on disk.
//
// The Placer computes the canonical placement path of an artifact, asks the
// duplicate resolver for a verdict and then writes, skips or reports a
// conflict:
//
//	p := placement.NewPlacer(&model.PathConfig{DownloadsPath: root}, c)
//	out, err := p.Place(ctx, artifact)
//	switch out.Result {
//	case placement.Written:
//	case placement.Skipped:    // out.Reason == "duplicate"
//	case placement.Conflicted: // out.Existing != out.Incoming, nothing was touched
//	}
//
// Classification and the write happen under a lock held per placement path,
// so two jobs racing on the same path cannot both write. Files are written
// through ioutils.WriteFileExclusive and are never overwritten.
//
// Running the same job twice therefore produces no new files and no errors.
package placement
