// Package download runs NFSe download jobs and tracks their lifecycle.
//
// # Jobs
//
// A Job downloads every document of one taxpayer within a date range. Its
// state only moves forward:
//
//	queued -> running -> completed
//	               \---> failed
//
// A queued job may also fail directly when its first page never arrives.
// Completed and failed are terminal. While running, each placement outcome
// increments exactly one of written, skippedDuplicate or conflicted, and each
// page advances currentPage/totalPages.
//
// # Tracker
//
// The Tracker is the registry the reporting API reads from. Jobs stay live
// until a terminal job is consumed, which archives its final snapshot.
//
// # Runner
//
// The Runner executes jobs concurrently, bounded by MaxConcurrentJobs. Pages
// within a job are pulled one at a time, in order:
//
//	tracker, _ := download.NewTracker()
//	runner := download.NewRunner(cfg, fetcher, placer, tracker,
//	    download.WithProgress(func(e download.ProgressEvent) {
//	        fmt.Println(e.Message)
//	    }))
//
//	jobs := runner.Run(ctx, []download.Request{{
//	    TaxpayerID: "52399222000122",
//	    From:       from,
//	    To:         to,
//	}})
//
// # Retry Logic
//
// Transient page failures are retried with exponential backoff, configurable
// via DownloadMaxRetries, DownloadRetryCooldown and DownloadRetryExponent.
// The retry budget applies to each page separately.
//
// # Write Failures
//
// A failed write is recorded on the job and the job moves on to the next
// artifact. Failures that will hit every following write as well (disk full,
// read-only filesystem) fail the job.
package download
