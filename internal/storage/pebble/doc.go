// Package pebblestore wraps Pebble for the server's history journal:
// an fsync policy, atomic multi-key updates and ordered prefix scans.
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir})
//	if err != nil { ... }
//	defer db.Close()
//
//	err = db.Update(func(b *pebble.Batch) error {
//	    return b.Set([]byte("req/1"), value, nil)
//	})
//	err = db.Scan([]byte("req/"), pebblestore.Descending, 10, visit)
package pebblestore
