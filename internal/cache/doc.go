// Package cache provides the namespaced, TTL and capacity bounded in-memory
// cache shared by every download job in the process.
//
// A Cache groups four independent stores, one per namespace:
//
//   - file-listing: directory listings used by the disk probe (short TTL)
//   - content-hash: fingerprint recorded at each placement path (long TTL)
//   - parsed-artifact: metadata parsed from NFSe XML, keyed by fingerprint
//   - duplicate-decision: cached NEW/DUPLICATE/CONFLICT verdicts
//
// Each store has its own lock, so sweeping or clearing one namespace never
// blocks readers of another.
//
// # Basic Usage
//
//	c, err := cache.New(cache.DefaultConfig(), cache.WithMetrics(prometheus.DefaultRegisterer))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.Start(ctx)
//	defer c.Close()
//
//	c.Hashes.Put("2025/072025/52399222000122/a.xml", fingerprint)
//	fp, ok := c.Hashes.Get("2025/072025/52399222000122/a.xml")
//
// # Expiry
//
// Entries expire lazily on Get once their age reaches the namespace TTL, and a
// background sweep started by Start removes expired entries on a fixed
// interval regardless of traffic.
//
// # Capacity
//
// Put evicts the oldest inserted entries until the namespace holds at most
// MaxEntries items. Entries inserted at the same instant leave in insertion
// order.
package cache
